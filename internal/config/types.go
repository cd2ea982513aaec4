package config

import (
	"fmt"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/Paintersrp/warden/internal/history"
	"github.com/Paintersrp/warden/internal/supervisor"
	"github.com/Paintersrp/warden/internal/tokens"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// File mirrors the warden.yaml document structure.
type File struct {
	Version  string                  `yaml:"version"`
	Workdir  string                  `yaml:"workdir"`
	Defaults Defaults                `yaml:"defaults"`
	Tokens   map[string]string       `yaml:"tokens"`
	Programs map[string]*ProgramSpec `yaml:"programs"`
	Update   *UpdateSpec             `yaml:"update"`
}

// Defaults captures settings applied to programs that omit them.
type Defaults struct {
	StopGracePeriod Duration `yaml:"stopGracePeriod"`
	HistorySize     int      `yaml:"historySize"`
	Encoding        string   `yaml:"encoding"`
}

// CodeRange bounds the exit codes a program treats as success.
type CodeRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// ProgramSpec describes one supervised program.
type ProgramSpec struct {
	Command         []string          `yaml:"command"`
	Workdir         string            `yaml:"workdir"`
	Env             map[string]string `yaml:"env"`
	EnvFromFile     string            `yaml:"envFromFile"`
	Encoding        string            `yaml:"encoding"`
	User            string            `yaml:"user"`
	SuccessCodes    *CodeRange        `yaml:"successCodes"`
	StopGracePeriod Duration          `yaml:"stopGracePeriod"`
	HistorySize     int               `yaml:"historySize"`

	ResolvedWorkdir string `yaml:"-"`
}

// UpdateSpec describes the toolchain-update command.
type UpdateSpec struct {
	Command []string          `yaml:"command"`
	Workdir string            `yaml:"workdir"`
	Env     map[string]string `yaml:"env"`
	Tokens  map[string]string `yaml:"tokens"`

	ResolvedWorkdir string `yaml:"-"`
}

const defaultStopGracePeriod = 5 * time.Second

// ApplyDefaults fills unset program fields from the defaults section.
func (f *File) ApplyDefaults() {
	if !f.Defaults.StopGracePeriod.IsSet() {
		f.Defaults.StopGracePeriod = Duration{Duration: defaultStopGracePeriod}
	}
	if f.Defaults.HistorySize <= 0 {
		f.Defaults.HistorySize = history.DefaultCapacity
	}
	for _, prog := range f.Programs {
		if prog == nil {
			continue
		}
		if !prog.StopGracePeriod.IsSet() {
			prog.StopGracePeriod = f.Defaults.StopGracePeriod
		}
		if prog.HistorySize <= 0 {
			prog.HistorySize = f.Defaults.HistorySize
		}
		if prog.Encoding == "" {
			prog.Encoding = f.Defaults.Encoding
		}
	}
}

// ResolveEncoding maps a configured encoding name onto an x/text encoding.
// An empty name selects UTF-8.
func ResolveEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		return unicode.UTF8, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("encoding %q has no Go implementation", name)
	}
	return enc, nil
}

// SupervisorSpec expands the program's command through tbl and produces the
// spec handed to a supervisor.
func (p *ProgramSpec) SupervisorSpec(tbl tokens.Table) (supervisor.Spec, error) {
	command, err := tbl.ExpandAll(p.Command)
	if err != nil {
		return supervisor.Spec{}, err
	}
	if len(command) == 0 {
		return supervisor.Spec{}, fmt.Errorf("program requires a command")
	}
	enc, err := ResolveEncoding(p.Encoding)
	if err != nil {
		return supervisor.Spec{}, err
	}
	spec := supervisor.Spec{
		Path:        command[0],
		Args:        command[1:],
		Dir:         p.ResolvedWorkdir,
		User:        p.User,
		Encoding:    enc,
		HistorySize: p.HistorySize,
	}
	if len(p.Env) > 0 {
		spec.Env = make(map[string]string, len(p.Env))
		for k, v := range p.Env {
			spec.Env[k] = v
		}
	}
	if p.SuccessCodes != nil {
		spec.SuccessMin = p.SuccessCodes.Min
		spec.SuccessMax = p.SuccessCodes.Max
	}
	return spec, nil
}
