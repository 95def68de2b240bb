// Package config turns command line values and an optional ini file into the
// server configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"gopkg.in/ini.v1"
)

var log = logging.Logger("strawdav/config")

const (
	DefaultAddr = "127.0.0.1"
	DefaultPort = 8080
	DefaultDir  = "./"

	// RootDirName names a dir whose path has no final component.
	RootDirName = "rootdir"
)

// Args holds the values given on the command line. Zero values mean "not
// given" and fall back to the config file, then to the defaults.
type Args struct {
	Addr        string
	Port        int
	Dirs        []string
	ConfigFile  string
	Prefix      string
	LogLevel    string
	MetricsAddr string
}

// Dir is one directory to serve and the mount name it is served under.
type Dir struct {
	Path string
	Name string
}

type Config struct {
	Addr        string
	Port        int
	Prefix      string
	LogLevel    string
	MetricsAddr string
	Dirs        []Dir
}

// SockAddr returns the host:port the server listens on.
func (c *Config) SockAddr() string {
	return net.JoinHostPort(c.Addr, strconv.Itoa(c.Port))
}

// DirName derives a mount name from p: its final path component, or
// RootDirName when there is none (as for "./" or "/").
func DirName(p string) string {
	if i := strings.Index(p, "://"); i >= 0 {
		p = p[i+len("://"):]
		if q := strings.IndexByte(p, '?'); q >= 0 {
			p = p[:q]
		}
		host := p
		if slash := strings.IndexByte(p, '/'); slash >= 0 {
			host = p[:slash]
		}
		if at := strings.LastIndexByte(host, '@'); at >= 0 {
			p = p[at+1:]
		}
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return RootDirName
	}
	switch name := path.Base(p); name {
	case ".", "..", "/":
		return RootDirName
	default:
		return name
	}
}

// ParseDir splits a "path@name" dir spec. The text after the last '@' is the
// name only when it contains no '/' and does not sit inside a URL's host part,
// so "sftp://user@host" keeps its user info; name such sources as
// "scheme://host/@name". Otherwise the whole spec is the path and the name is
// derived with DirName.
func ParseDir(spec string) (Dir, error) {
	if spec == "" {
		return Dir{}, errors.New("invalid dir string format: empty")
	}
	if i := strings.LastIndexByte(spec, '@'); i >= 0 && !strings.Contains(spec[i+1:], "/") && !inAuthority(spec, i) {
		p, name := spec[:i], spec[i+1:]
		if p == "" {
			return Dir{}, fmt.Errorf("invalid dir string format: %q has no path", spec)
		}
		return Dir{Path: p, Name: name}, nil
	}
	return Dir{Path: spec, Name: DirName(spec)}, nil
}

// inAuthority reports whether offset i of a URL source falls before the first
// '/' following its "://".
func inAuthority(spec string, i int) bool {
	s := strings.Index(spec, "://")
	if s < 0 || i < s {
		return false
	}
	start := s + len("://")
	slash := strings.IndexByte(spec[start:], '/')
	return slash < 0 || i < start+slash
}

func parseDirArgs(specs []string) ([]Dir, error) {
	dirs := make([]Dir, 0, len(specs))
	for _, s := range specs {
		d, err := ParseDir(s)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, d)
	}
	return dirs, nil
}

// Load builds the configuration from args and, when args.ConfigFile is set,
// the ini file it names. Command line values win over file values; command
// line dirs come before the file's [Dir] sections. The result is validated.
func Load(args Args) (*Config, error) {
	cfg := &Config{
		Addr:        args.Addr,
		Port:        args.Port,
		Prefix:      args.Prefix,
		LogLevel:    args.LogLevel,
		MetricsAddr: args.MetricsAddr,
	}

	dirs, err := parseDirArgs(args.Dirs)
	if err != nil {
		return nil, err
	}
	cfg.Dirs = dirs

	if args.ConfigFile != "" {
		file, err := ini.LoadSources(ini.LoadOptions{AllowNonUniqueSections: true}, args.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", args.ConfigFile, err)
		}
		if err := cfg.merge(file); err != nil {
			return nil, fmt.Errorf("%s: %w", args.ConfigFile, err)
		}
	}

	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if len(cfg.Dirs) == 0 {
		cfg.Dirs = []Dir{{Path: DefaultDir, Name: DirName(DefaultDir)}}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Debugw("configuration loaded", "addr", cfg.SockAddr(), "prefix", cfg.Prefix, "dirs", len(cfg.Dirs))
	return cfg, nil
}

// merge fills the values still unset from the ini file's global section and
// appends its [Dir] sections.
func (c *Config) merge(file *ini.File) error {
	global := file.Section(ini.DefaultSection)

	if c.Addr == "" {
		c.Addr = global.Key("addr").String()
	}
	if c.Port == 0 && global.HasKey("port") {
		port, err := global.Key("port").Int()
		if err != nil {
			return fmt.Errorf("invalid port: %w", err)
		}
		c.Port = port
	}
	if c.Prefix == "" {
		c.Prefix = global.Key("prefix").String()
	}
	if c.LogLevel == "" {
		c.LogLevel = global.Key("log_level").String()
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = global.Key("metrics_addr").String()
	}

	for _, section := range file.Sections() {
		if section.Name() != "Dir" {
			continue
		}
		if !section.HasKey("path") {
			return errors.New("missing field `path` in Dir section")
		}
		p := section.Key("path").String()
		name := section.Key("name").String()
		if name == "" {
			name = DirName(p)
		}
		c.Dirs = append(c.Dirs, Dir{Path: p, Name: name})
	}
	return nil
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var result error

	if c.Port < 1 || c.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Prefix != "" && !strings.HasPrefix(c.Prefix, "/") {
		result = multierror.Append(result, fmt.Errorf("prefix %q must start with /", c.Prefix))
	}
	if len(c.Dirs) == 0 {
		result = multierror.Append(result, errors.New("no dirs to serve"))
	}

	seen := make(map[string]string, len(c.Dirs))
	for _, d := range c.Dirs {
		switch {
		case d.Path == "":
			result = multierror.Append(result, fmt.Errorf("dir %q has an empty path", d.Name))
		case d.Name == "":
			result = multierror.Append(result, fmt.Errorf("dir %s has an empty name", d.Path))
		case strings.Contains(d.Name, "/"):
			result = multierror.Append(result, fmt.Errorf("dir name %q contains /", d.Name))
		}
		if other, dup := seen[d.Name]; dup {
			result = multierror.Append(result, fmt.Errorf("dir name %q used by both %s and %s", d.Name, other, d.Path))
			continue
		}
		seen[d.Name] = d.Path
	}
	return result
}
