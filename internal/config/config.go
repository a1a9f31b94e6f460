package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// namespaceUUID is the fixed namespace the endpoint URN is derived from
// when none is configured explicitly, carried over unchanged from the
// original implementation.
var namespaceUUID = uuid.MustParse("49DAC291-0608-41C9-941C-ED0E7ACCDE1E")

const defaultPageSize = 4096

// netbiosSentinel is the documented hostname value ":NETBIOS:" meaning
// "derive the uppercased NetBIOS name" rather than a literal hostname.
// It exists because TOML/env configuration has no way to distinguish
// "hostname not set" from "hostname explicitly set to empty" the way a
// CLI flag can.
const netbiosSentinel = ":NETBIOS:"

// Overrides carries CLI-flag-supplied values, which win over both the
// TOML file and the environment per the defaults < file < env < flags
// priority order.
type Overrides struct {
	Interfaces    []string
	AddressFamily string // "ipv4", "ipv6", "" = both
	HopLimit      *int
	SourcePort    *int
	UUID          string
	Hostname      *string
	Workgroup     string
	Domain        string
	MetadataFile  string
	LogLevel      string
	LogFormat     string
	PIDFile       string
}

// initViper sets up defaults, WSDD_-prefixed environment binding, and
// (if configPath is non-empty) the TOML file layer.
func initViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WSDD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network.interfaces", []string{})
	v.SetDefault("network.address_family", "both")
	v.SetDefault("network.hoplimit", 1)
	v.SetDefault("network.source_port", 0)

	v.SetDefault("identity.uuid", "")
	v.SetDefault("identity.hostname", "")
	v.SetDefault("identity.workgroup", "")
	v.SetDefault("identity.domain", "")
	v.SetDefault("identity.metadata", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.os_log", false)

	v.SetDefault("daemon.pid_file", "")
	v.SetDefault("daemon.user", "")
	v.SetDefault("daemon.chroot", "")
	v.SetDefault("daemon.type", "")
}

// Load builds a Config: TOML file (if configPath is non-empty) layered
// over defaults, both overridden by the environment, all overridden by
// overrides (the CLI flags actually passed).
func Load(configPath string, overrides Overrides) (*Config, error) {
	v, err := initViper(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{ConfigPath: configPath}

	if err := loadNetwork(v, overrides, cfg); err != nil {
		return nil, err
	}
	if err := loadIdentity(v, overrides, cfg); err != nil {
		return nil, err
	}
	loadDaemon(v, overrides, cfg)

	cfg.InstanceID = uint64(time.Now().Unix())
	cfg.PageSize = defaultPageSize

	return cfg, nil
}

func loadNetwork(v *viper.Viper, overrides Overrides, cfg *Config) error {
	interfaces := v.GetStringSlice("network.interfaces")
	if len(overrides.Interfaces) > 0 {
		interfaces = overrides.Interfaces
	}
	cfg.Interfaces = interfaces
	cfg.InterfaceWhitelist = make(map[string]struct{}, len(interfaces))
	for _, name := range interfaces {
		name = strings.TrimSpace(name)
		if name != "" {
			cfg.InterfaceWhitelist[name] = struct{}{}
		}
	}

	family := v.GetString("network.address_family")
	if overrides.AddressFamily != "" {
		family = overrides.AddressFamily
	}
	switch strings.ToLower(family) {
	case "", "both":
		cfg.EnableIPv4, cfg.EnableIPv6 = true, true
	case "ipv4":
		cfg.EnableIPv4, cfg.EnableIPv6 = true, false
	case "ipv6":
		cfg.EnableIPv4, cfg.EnableIPv6 = false, true
	default:
		return fmt.Errorf("config: invalid network.address_family %q", family)
	}

	cfg.HopLimit = v.GetInt("network.hoplimit")
	if overrides.HopLimit != nil {
		cfg.HopLimit = *overrides.HopLimit
	}
	if cfg.HopLimit < 1 {
		return fmt.Errorf("config: network.hoplimit must be >= 1, got %d", cfg.HopLimit)
	}

	cfg.SourcePort = v.GetInt("network.source_port")
	if overrides.SourcePort != nil {
		cfg.SourcePort = *overrides.SourcePort
	}
	if cfg.SourcePort < 0 || cfg.SourcePort > 65535 {
		return fmt.Errorf("config: network.source_port must be in [0,65535], got %d", cfg.SourcePort)
	}

	return nil
}

func loadIdentity(v *viper.Viper, overrides Overrides, cfg *Config) error {
	hostName, err := os.Hostname()
	if err != nil {
		hostName = "localhost"
	}
	simpleHostName, _, _ := strings.Cut(hostName, ".")

	configuredUUID := v.GetString("identity.uuid")
	if overrides.UUID != "" {
		configuredUUID = overrides.UUID
	}

	var id uuid.UUID
	if configuredUUID != "" {
		id, err = uuid.Parse(configuredUUID)
		if err != nil {
			return fmt.Errorf("config: invalid identity.uuid %q: %w", configuredUUID, err)
		}
	} else {
		id = uuid.NewSHA1(namespaceUUID, []byte(hostName))
	}
	cfg.HTTPPath = id.String()
	cfg.EndpointURN = "urn:uuid:" + id.String()

	configuredHostname := v.GetString("identity.hostname")
	if overrides.Hostname != nil {
		configuredHostname = *overrides.Hostname
	}
	useNetBIOSName := (overrides.Hostname != nil && *overrides.Hostname == "") || configuredHostname == netbiosSentinel
	if configuredHostname == netbiosSentinel {
		configuredHostname = ""
	}
	switch {
	case configuredHostname != "":
		cfg.WinNetInfo.HostName = configuredHostname
	case useNetBIOSName:
		cfg.WinNetInfo.HostName = strings.ToUpper(simpleHostName)
	default:
		cfg.WinNetInfo.HostName = simpleHostName
	}

	workgroup := v.GetString("identity.workgroup")
	domain := v.GetString("identity.domain")
	if overrides.Workgroup != "" {
		workgroup, domain = overrides.Workgroup, ""
	} else if overrides.Domain != "" {
		workgroup, domain = "", overrides.Domain
	}
	switch {
	case domain != "":
		cfg.WinNetInfo.MemberOf = Domain(domain)
	case workgroup != "":
		cfg.WinNetInfo.MemberOf = Workgroup(workgroup)
	default:
		cfg.WinNetInfo.MemberOf = Workgroup("WORKGROUP")
	}

	if cfg.WinNetInfo.HostDescription == "" {
		if configuredHostname != "" {
			cfg.WinNetInfo.HostDescription = configuredHostname
		} else {
			cfg.WinNetInfo.HostDescription = simpleHostName
		}
	}

	metadataFile := v.GetString("identity.metadata")
	if overrides.MetadataFile != "" {
		metadataFile = overrides.MetadataFile
	}
	if metadataFile != "" {
		tmpl, err := loadMetadataFile(metadataFile, defaultPageSize)
		if err != nil {
			return err
		}
		cfg.MetadataTemplate = tmpl
	}

	return nil
}

func loadDaemon(v *viper.Viper, overrides Overrides, cfg *Config) {
	cfg.LogLevel = v.GetString("log.level")
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	cfg.LogFormat = v.GetString("log.format")
	if overrides.LogFormat != "" {
		cfg.LogFormat = overrides.LogFormat
	}
	cfg.LogFile = v.GetString("log.file")
	cfg.LogOSLog = v.GetBool("log.os_log")

	cfg.PIDFile = v.GetString("daemon.pid_file")
	if overrides.PIDFile != "" {
		cfg.PIDFile = overrides.PIDFile
	}
	cfg.User = v.GetString("daemon.user")
	cfg.Chroot = v.GetString("daemon.chroot")
	cfg.DaemonType = v.GetString("daemon.type")
}

// loadMetadataFile reads and parses a user-supplied metadata template,
// reading it in pageSize chunks the way loadMetadaFile does in the
// original implementation. The chunks are collected in memory and the
// whole document is parsed in one call once the file has been read.
func loadMetadataFile(filename string, pageSize int) (*etree.Element, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("config: metadata file %s: %w", filename, err)
	}
	defer f.Close()

	doc := etree.NewDocument()
	buf := make([]byte, pageSize)
	var data []byte
	for {
		n, readErr := f.Read(buf)
		data = append(data, buf[:n]...)
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("config: metadata file %s: %w", filename, readErr)
		}
	}

	if len(data) < 4 {
		return nil, fmt.Errorf("config: metadata file %s is invalid", filename)
	}
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("config: metadata file %s is not well formed XML: %w", filename, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("config: metadata file %s has no root element", filename)
	}
	return doc.Root(), nil
}
