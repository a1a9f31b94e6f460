// Package config loads wsdd-go's configuration from a TOML file with
// environment variable and CLI overrides, and derives the immutable
// Config snapshot the protocol engine runs against.
//
// Environment variables use the WSDD_ prefix and underscore-separated
// keys: WSDD_NETWORK_HOPLIMIT -> network.hoplimit.
package config

import (
	"os"
	"strings"

	"github.com/beevik/etree"
)

// AddressFamily restricts which IP families the daemon listens on.
type AddressFamily int

const (
	BothIPv4AndIPv6 AddressFamily = iota
	IPv4Only
	IPv6Only
)

// MemberOf is the tagged union of Workgroup(name)/Domain(name) the original
// implementation calls WinNetInfo::memberOf.
type MemberOf struct {
	IsDomain bool
	Name     string
}

// Workgroup returns a MemberOf tagged as a workgroup.
func Workgroup(name string) MemberOf { return MemberOf{IsDomain: false, Name: name} }

// Domain returns a MemberOf tagged as an Active Directory domain.
func Domain(name string) MemberOf { return MemberOf{IsDomain: true, Name: name} }

// Tag returns "Workgroup" or "Domain", matching buildFullComputerName's
// separator choice in the original implementation.
func (m MemberOf) Tag() string {
	if m.IsDomain {
		return "Domain"
	}
	return "Workgroup"
}

// WinNetInfo is the SMB-facing identity this host presents: its NetBIOS
// name, a human-readable description, and the workgroup or domain it
// belongs to.
type WinNetInfo struct {
	HostName        string
	HostDescription string
	MemberOf        MemberOf
}

// Config is the immutable snapshot shared by reference among the
// long-lived components (ServerManager, Server); a Server copies the
// values its UDPEndpoint and HTTPEndpoint need into them. A reload builds a new Config and the supervisor swaps
// the pointer; nothing mutates a Config in place.
type Config struct {
	// InstanceID is a monotonically increasing token (Unix time in
	// seconds, taken when the Config is loaded) Windows peers use to
	// detect a restart.
	InstanceID uint64
	// EndpointURN is this host's stable "urn:uuid:..." identifier.
	EndpointURN string
	// HTTPPath is the plain UUID string (no "urn:uuid:" prefix, no
	// leading slash) that is the single valid HTTP path.
	HTTPPath string

	WinNetInfo WinNetInfo

	HopLimit           int
	SourcePort         int
	EnableIPv4         bool
	EnableIPv6         bool
	InterfaceWhitelist map[string]struct{}

	// PageSize sizes the read buffer used while streaming a metadata
	// template off disk; mirrors the original's sysconf(_SC_PAGESIZE).
	PageSize int

	// MetadataTemplate is the parsed root element of a user-supplied
	// metadata document, or nil to use the built-in default GetResponse
	// body.
	MetadataTemplate *etree.Element

	// Loader-facing fields: consumed by cmd/wsdd and the supervisor, not
	// by the protocol engine itself. log-level/log-file/log-os-log/
	// pid-file/user/chroot/daemon-type are irrelevant to the core request
	// path but are carried through the snapshot the way the original
	// implementation's CommandLine/Config pass them along unused by the
	// WSD engine proper.
	ConfigPath string
	LogLevel   string
	LogFormat  string // "text" | "json"
	LogFile    string
	LogOSLog   bool
	PIDFile    string
	User       string
	Chroot     string
	DaemonType string
	Interfaces []string
}

// IsAllowedInterface reports whether name passes the interface whitelist
// (an empty whitelist allows everything).
func (c *Config) IsAllowedInterface(name string) bool {
	if len(c.InterfaceWhitelist) == 0 {
		return true
	}
	_, ok := c.InterfaceWhitelist[name]
	return ok
}

// ResolveConfigPath determines the config file path from a CLI flag or
// the WSDD_CONFIG environment variable, flag taking precedence.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("WSDD_CONFIG")); v != "" {
		return v
	}
	return ""
}
