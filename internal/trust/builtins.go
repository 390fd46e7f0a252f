package trust

import "strings"

// builtinWindowsProcesses and builtinUnixProcesses are the compiled
// built-in process-name lists: OS core processes, common browsers, dev
// tools and everyday desktop apps that should never need a user/learned
// trust decision.
var builtinWindowsProcesses = []string{
	"System", "smss.exe", "csrss.exe", "wininit.exe", "services.exe",
	"lsass.exe", "svchost.exe", "explorer.exe", "taskhostw.exe", "dwm.exe",
	"conhost.exe", "RuntimeBroker.exe", "SearchHost.exe",
	"ShellExperienceHost.exe", "StartMenuExperienceHost.exe", "sihost.exe",
	"fontdrvhost.exe", "WmiPrvSE.exe", "dllhost.exe", "ctfmon.exe",
	"SecurityHealthService.exe", "MsMpEng.exe", "NisSrv.exe", "spoolsv.exe",
	"audiodg.exe", "SearchIndexer.exe", "TextInputHost.exe",
	"ApplicationFrameHost.exe", "SystemSettings.exe", "SettingSyncHost.exe",
	"backgroundTaskHost.exe", "CompPkgSrv.exe", "LockApp.exe", "Registry",
	"MemCompression", "Idle",
	"chrome.exe", "msedge.exe", "firefox.exe", "brave.exe", "opera.exe",
	"vivaldi.exe", "duckduckgo.exe",
	"Code.exe", "cursor.exe", "node.exe", "python.exe", "pythonw.exe",
	"git.exe", "WindowsTerminal.exe", "powershell.exe", "cmd.exe",
	"wsl.exe", "docker.exe", "Docker Desktop.exe",
	"Spotify.exe", "Discord.exe", "slack.exe", "Teams.exe", "Zoom.exe",
	"OneDrive.exe", "Dropbox.exe", "Steam.exe", "EpicGamesLauncher.exe",
	"1Password.exe", "Bitwarden.exe", "KeePass.exe", "Notion.exe",
	"Obsidian.exe", "Postman.exe", "vlc.exe", "NVIDIA Share.exe",
	"nvcontainer.exe", "nvidia-smi.exe", "amdow.exe", "RadeonSoftware.exe",
}

var builtinUnixProcesses = []string{
	"systemd", "init", "kthreadd", "kworker", "ksoftirqd", "migration",
	"rcu_sched", "watchdog", "bash", "sh", "zsh", "fish", "sshd", "cron",
	"dbus-daemon", "NetworkManager", "pulseaudio", "pipewire", "Xorg",
	"gdm", "lightdm", "gnome-shell", "kwin",
}

// SpecialProcessNames are skipped for hashing/trust classification
// entirely.
var SpecialProcessNames = map[string]bool{
	"System": true, "Idle": true, "Registry": true, "MemCompression": true,
}

func builtinSet(windows bool) map[string]bool {
	list := builtinUnixProcesses
	if windows {
		list = builtinWindowsProcesses
	}
	set := make(map[string]bool, len(list))
	for _, name := range list {
		set[strings.ToLower(name)] = true
	}
	return set
}

// systemPathPrefixes are the platform system directory prefixes,
// lower-cased for case-insensitive comparison.
func systemPathPrefixes(windows bool) []string {
	if windows {
		return []string{`c:\windows\`, `c:\program files\`, `c:\program files (x86)\`}
	}
	return []string{"/usr/bin/", "/usr/sbin/", "/bin/", "/sbin/", "/usr/lib/"}
}
