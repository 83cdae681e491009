package manifest

import "path/filepath"

// Layout holds the install directories. Relative directories are below
// the install prefix.
type Layout struct {
	Name          string
	BinDir        string
	LibexecDir    string
	ModuleDir     string
	ManRoot       string
	HTMLDir       string
	UserUnitDir   string
	SystemUnitDir string
	PolicyDir     string
	DBusDir       string
}

// ManDir returns the directory of manual section sec.
func (l Layout) ManDir(sec string) string {
	return filepath.Join(l.ManRoot, "man"+sec)
}

// MrkdLayout installs roff pages only and the D-Bus policy into /etc.
var MrkdLayout = Layout{
	Name:          "mrkd",
	BinDir:        "bin",
	LibexecDir:    "share/uprocd/bin",
	ModuleDir:     "share/uprocd/modules",
	ManRoot:       "share/man",
	UserUnitDir:   "lib/systemd/user",
	SystemUnitDir: "lib/systemd/system",
	PolicyDir:     "share/cgrmvd/policies",
	DBusDir:       "/etc/dbus-1/system.d",
}

// RonnLayout additionally installs HTML pages, and keeps the D-Bus policy
// under the prefix.
var RonnLayout = Layout{
	Name:          "ronn",
	BinDir:        "bin",
	LibexecDir:    "share/uprocd/bin",
	ModuleDir:     "share/uprocd/modules",
	ManRoot:       "share/man",
	HTMLDir:       "share/doc/uprocd",
	UserUnitDir:   "lib/systemd/user",
	SystemUnitDir: "lib/systemd/system",
	PolicyDir:     "share/cgrmvd/policies",
	DBusDir:       "share/dbus-1/system.d",
}

// LayoutFor picks the layout matching a documentation tool name.
func LayoutFor(docTool string) Layout {
	if docTool == RonnLayout.Name {
		return RonnLayout
	}
	return MrkdLayout
}
