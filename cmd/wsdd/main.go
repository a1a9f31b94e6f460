// Command wsdd runs the WS-Discovery responder daemon: it advertises this
// host as a Windows-compatible Computer on its local IPv4/IPv6 link-local
// networks and answers Probe/Resolve/Get requests from peers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/wsdd-go/wsdd/internal/config"
	"github.com/wsdd-go/wsdd/internal/logging"
	"github.com/wsdd-go/wsdd/internal/supervisor"
)

// Exit codes per the external interface: 0 clean shutdown, 1 fatal
// error, 2 reload requested (SIGHUP) — a wrapping process manager is
// expected to re-exec the binary on 2.
const (
	exitOK      = 0
	exitError   = 1
	exitReload  = 2
)

func main() {
	os.Exit(run())
}

// optionalString distinguishes a flag that was never passed from one
// passed with an empty value, which -hostname uses to mean "derive the
// uppercased NetBIOS name" rather than "use the empty string".
type optionalString struct {
	value string
	set   bool
}

func (o *optionalString) String() string { return o.value }
func (o *optionalString) Set(s string) error {
	o.value = s
	o.set = true
	return nil
}

type cliFlags struct {
	configPath    string
	interfaces    string
	addressFamily string
	hopLimit      int
	sourcePort    int
	uuid          string
	hostname      optionalString
	workgroup     string
	domain        string
	metadataFile  string
	logLevel      string
	logFormat     string
	logFile       string
	pidFile       string
	debug         bool
	jsonLogs      bool
}

const unsetInt = -1

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("wsdd", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "Path to the TOML configuration file (also WSDD_CONFIG)")
	fs.StringVar(&f.interfaces, "interfaces", "", "Comma-separated interface whitelist (empty means all)")
	fs.StringVar(&f.addressFamily, "family", "", "Restrict to \"ipv4\" or \"ipv6\" (default: both)")
	fs.IntVar(&f.hopLimit, "hoplimit", unsetInt, "Multicast TTL/hop limit")
	fs.IntVar(&f.sourcePort, "sourceport", unsetInt, "Fixed UDP source port (0 lets the kernel choose)")
	fs.StringVar(&f.uuid, "uuid", "", "Explicit endpoint UUID (default: derived from the hostname)")
	fs.Var(&f.hostname, "hostname", "Host name to advertise. Pass empty or \":NETBIOS:\" to derive the uppercased NetBIOS name")
	fs.StringVar(&f.workgroup, "workgroup", "", "Workgroup name to advertise")
	fs.StringVar(&f.domain, "domain", "", "Active Directory domain name to advertise")
	fs.StringVar(&f.metadataFile, "metadata", "", "Path to a custom Get response metadata template")
	fs.StringVar(&f.logLevel, "loglevel", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "logformat", "", "Log format: text or json")
	fs.StringVar(&f.logFile, "logfile", "", "Append logs to this file instead of stderr")
	fs.StringVar(&f.pidFile, "pidfile", "", "Write the process ID to this file")
	fs.BoolVar(&f.debug, "debug", false, "Shorthand for -loglevel debug")
	fs.BoolVar(&f.jsonLogs, "json-logs", false, "Shorthand for -logformat json")
	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return f, nil
}

func (f cliFlags) overrides() config.Overrides {
	var interfaces []string
	if f.interfaces != "" {
		for _, name := range strings.Split(f.interfaces, ",") {
			if name = strings.TrimSpace(name); name != "" {
				interfaces = append(interfaces, name)
			}
		}
	}

	o := config.Overrides{
		Interfaces:    interfaces,
		AddressFamily: f.addressFamily,
		UUID:          f.uuid,
		Workgroup:     f.workgroup,
		Domain:        f.domain,
		MetadataFile:  f.metadataFile,
		LogLevel:      f.logLevel,
		LogFormat:     f.logFormat,
		PIDFile:       f.pidFile,
	}
	if f.hopLimit != unsetInt {
		o.HopLimit = &f.hopLimit
	}
	if f.sourcePort != unsetInt {
		o.SourcePort = &f.sourcePort
	}
	if f.hostname.set {
		o.Hostname = &f.hostname.value
	}
	if f.debug {
		o.LogLevel = "debug"
	}
	if f.jsonLogs {
		o.LogFormat = "json"
	}
	return o
}

func run() int {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		return exitError
	}

	configPath := config.ResolveConfigPath(flags.configPath)
	cfg, err := config.Load(configPath, flags.overrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsdd: config: %v\n", err)
		return exitError
	}
	if flags.logFile != "" {
		cfg.LogFile = flags.logFile
	}

	logger := logging.Configure(logging.Config{
		Level:      cfg.LogLevel,
		Structured: cfg.LogFormat == "json",
		StructuredFormat: cfg.LogFormat,
		OutputFile: cfg.LogFile,
		IncludePID: true,
	})

	if cfg.PIDFile != "" {
		if err := os.WriteFile(cfg.PIDFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
			logger.Warn("failed to write PID file", "path", cfg.PIDFile, "error", err)
		}
	}

	logger.Info("wsdd starting",
		"endpoint", cfg.EndpointURN,
		"hostname", cfg.WinNetInfo.HostName,
		"ipv4", cfg.EnableIPv4,
		"ipv6", cfg.EnableIPv6,
	)

	sup := supervisor.New(logger)
	reload, err := sup.Run(context.Background(), cfg)
	if err != nil {
		logger.Error("wsdd exiting with an error", "error", err)
		return exitError
	}
	if reload {
		logger.Info("wsdd exiting for reload")
		return exitReload
	}
	logger.Info("wsdd exiting")
	return exitOK
}
