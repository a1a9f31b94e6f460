package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		envValue string
		want     string
	}{
		{"flag takes precedence", "/path/from/flag", "/path/from/env", "/path/from/flag"},
		{"env when no flag", "", "/path/from/env", "/path/from/env"},
		{"empty when neither", "", "", ""},
		{"whitespace flag", "  ", "/path/from/env", "/path/from/env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WSDD_CONFIG", tt.envValue)
			got := ResolveConfigPath(tt.flag)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadDefault(t *testing.T) {
	cfg, err := Load("", Overrides{})
	require.NoError(t, err)

	assert.True(t, cfg.EnableIPv4)
	assert.True(t, cfg.EnableIPv6)
	assert.Equal(t, 1, cfg.HopLimit)
	assert.Equal(t, 0, cfg.SourcePort)
	assert.Empty(t, cfg.InterfaceWhitelist)
	assert.Equal(t, "WORKGROUP", cfg.WinNetInfo.MemberOf.Name)
	assert.False(t, cfg.WinNetInfo.MemberOf.IsDomain)
	assert.NotEmpty(t, cfg.EndpointURN)
	assert.Contains(t, cfg.EndpointURN, "urn:uuid:")
	assert.Nil(t, cfg.MetadataTemplate)
}

func TestLoad_DeterministicEndpointURNFromHostname(t *testing.T) {
	cfg1, err := Load("", Overrides{})
	require.NoError(t, err)
	cfg2, err := Load("", Overrides{})
	require.NoError(t, err)

	assert.Equal(t, cfg1.EndpointURN, cfg2.EndpointURN, "derived URN must be stable across loads for the same host")
}

func TestLoad_ExplicitUUIDOverride(t *testing.T) {
	cfg, err := Load("", Overrides{UUID: "1b6dd603-ea6c-4201-9b2d-cf53b3901a14"})
	require.NoError(t, err)

	assert.Equal(t, "urn:uuid:1b6dd603-ea6c-4201-9b2d-cf53b3901a14", cfg.EndpointURN)
	assert.Equal(t, "1b6dd603-ea6c-4201-9b2d-cf53b3901a14", cfg.HTTPPath)
}

func TestLoad_InvalidUUIDOverride(t *testing.T) {
	_, err := Load("", Overrides{UUID: "not-a-uuid"})
	assert.Error(t, err)
}

func TestLoad_AddressFamilyOverride(t *testing.T) {
	cfg, err := Load("", Overrides{AddressFamily: "ipv4"})
	require.NoError(t, err)
	assert.True(t, cfg.EnableIPv4)
	assert.False(t, cfg.EnableIPv6)

	cfg, err = Load("", Overrides{AddressFamily: "ipv6"})
	require.NoError(t, err)
	assert.False(t, cfg.EnableIPv4)
	assert.True(t, cfg.EnableIPv6)
}

func TestLoad_InvalidAddressFamily(t *testing.T) {
	_, err := Load("", Overrides{AddressFamily: "ipv5"})
	assert.Error(t, err)
}

func TestLoad_HopLimitValidation(t *testing.T) {
	bad := 0
	_, err := Load("", Overrides{HopLimit: &bad})
	assert.Error(t, err)
}

func TestLoad_SourcePortValidation(t *testing.T) {
	bad := 70000
	_, err := Load("", Overrides{SourcePort: &bad})
	assert.Error(t, err)
}

func TestLoad_InterfaceWhitelist(t *testing.T) {
	cfg, err := Load("", Overrides{Interfaces: []string{"eth0", "eth1"}})
	require.NoError(t, err)

	assert.True(t, cfg.IsAllowedInterface("eth0"))
	assert.True(t, cfg.IsAllowedInterface("eth1"))
	assert.False(t, cfg.IsAllowedInterface("eth2"))
}

func TestLoad_EmptyWhitelistAllowsAllInterfaces(t *testing.T) {
	cfg, err := Load("", Overrides{})
	require.NoError(t, err)
	assert.True(t, cfg.IsAllowedInterface("anything"))
}

func TestLoad_WorkgroupAndDomainOverride(t *testing.T) {
	cfg, err := Load("", Overrides{Workgroup: "MYGROUP"})
	require.NoError(t, err)
	assert.False(t, cfg.WinNetInfo.MemberOf.IsDomain)
	assert.Equal(t, "MYGROUP", cfg.WinNetInfo.MemberOf.Name)

	cfg, err = Load("", Overrides{Domain: "EXAMPLE"})
	require.NoError(t, err)
	assert.True(t, cfg.WinNetInfo.MemberOf.IsDomain)
	assert.Equal(t, "EXAMPLE", cfg.WinNetInfo.MemberOf.Name)
}

func TestLoad_HostnameOverride(t *testing.T) {
	name := "myhost"
	cfg, err := Load("", Overrides{Hostname: &name})
	require.NoError(t, err)
	assert.Equal(t, "myhost", cfg.WinNetInfo.HostName)
	assert.Equal(t, "myhost", cfg.WinNetInfo.HostDescription)
}

func TestLoad_EmptyHostnameOverrideUsesUppercasedNetBIOSName(t *testing.T) {
	osHostname, err := os.Hostname()
	require.NoError(t, err)
	simple, _, _ := strings.Cut(osHostname, ".")

	empty := ""
	cfg, err := Load("", Overrides{Hostname: &empty})
	require.NoError(t, err)
	assert.Equal(t, strings.ToUpper(simple), cfg.WinNetInfo.HostName)
}

func TestLoad_NetBIOSSentinelHostnameOverrideUsesUppercasedNetBIOSName(t *testing.T) {
	osHostname, err := os.Hostname()
	require.NoError(t, err)
	simple, _, _ := strings.Cut(osHostname, ".")

	sentinel := ":NETBIOS:"
	cfg, err := Load("", Overrides{Hostname: &sentinel})
	require.NoError(t, err)
	assert.Equal(t, strings.ToUpper(simple), cfg.WinNetInfo.HostName)
}

func TestLoad_NetBIOSSentinelHostnameFromFile(t *testing.T) {
	osHostname, err := os.Hostname()
	require.NoError(t, err)
	simple, _, _ := strings.Cut(osHostname, ".")

	dir := t.TempDir()
	path := filepath.Join(dir, "wsdd.toml")
	require.NoError(t, os.WriteFile(path, []byte("[identity]\nhostname = \":NETBIOS:\"\n"), 0o644))

	cfg, err := Load(path, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, strings.ToUpper(simple), cfg.WinNetInfo.HostName)
}

func TestLoad_MetadataFileParsedAndLinked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.xml")
	require.NoError(t, os.WriteFile(path, []byte(`<root><a>$ENDPOINT_ID</a></root>`), 0o644))

	cfg, err := Load("", Overrides{MetadataFile: path})
	require.NoError(t, err)
	require.NotNil(t, cfg.MetadataTemplate)
	assert.Equal(t, "root", cfg.MetadataTemplate.Tag)
}

func TestLoad_MetadataFileMissing(t *testing.T) {
	_, err := Load("", Overrides{MetadataFile: "/nonexistent/metadata.xml"})
	assert.Error(t, err)
}

func TestLoad_MetadataFileTooSmall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.xml")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := Load("", Overrides{MetadataFile: path})
	assert.Error(t, err)
}

func TestLoad_TOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wsdd.toml")
	contents := `
[network]
hoplimit = 3
source_port = 12345
address_family = "ipv4"

[identity]
workgroup = "FROMFILE"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.HopLimit)
	assert.Equal(t, 12345, cfg.SourcePort)
	assert.True(t, cfg.EnableIPv4)
	assert.False(t, cfg.EnableIPv6)
	assert.Equal(t, "FROMFILE", cfg.WinNetInfo.MemberOf.Name)
}

func TestLoad_CLIOverrideBeatsTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wsdd.toml")
	require.NoError(t, os.WriteFile(path, []byte("[network]\nhoplimit = 3\n"), 0o644))

	override := 9
	cfg, err := Load(path, Overrides{HopLimit: &override})
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.HopLimit)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wsdd.toml")
	require.NoError(t, os.WriteFile(path, []byte("[network]\nhoplimit = 3\n"), 0o644))

	t.Setenv("WSDD_NETWORK_HOPLIMIT", "7")

	cfg, err := Load(path, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.HopLimit)
}
