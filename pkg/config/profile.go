package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// ProgramProfile is the deployment profile of a governance program: who may
// initialize the program config and what the initial config holds.
type ProgramProfile struct {
	Name         string   `yaml:"name" json:"name"`
	Authority    string   `yaml:"authority" json:"authority"`
	Initializers []string `yaml:"initializers" json:"initializers"`
	Treasury     string   `yaml:"treasury" json:"treasury"`
	CreationFee  uint64   `yaml:"creation_fee" json:"creation_fee"`
	// MaxTimeLock caps the time lock of settings created through tooling.
	// Zero keeps the program-wide maximum.
	MaxTimeLock uint32 `yaml:"max_time_lock" json:"max_time_lock"`
}

// LoadProgramProfile reads and validates a profile YAML file.
func LoadProgramProfile(path string) (*ProgramProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}

	var profile ProgramProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}
	if profile.Name == "" {
		profile.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", profile.Name, err)
	}
	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from dir, keyed by name.
func LoadAllProfiles(dir string) (map[string]*ProgramProfile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*ProgramProfile, len(matches))
	for _, path := range matches {
		p, err := LoadProgramProfile(path)
		if err != nil {
			return nil, err
		}
		profiles[p.Name] = p
	}
	return profiles, nil
}

// Validate checks that every key parses and the treasury is set.
func (p *ProgramProfile) Validate() error {
	if _, err := p.InitializerKeys(); err != nil {
		return err
	}
	if _, err := p.TreasuryKey(); err != nil {
		return err
	}
	if _, err := p.AuthorityKey(); err != nil {
		return err
	}
	return nil
}

// InitializerKeys parses the initializer allow-list.
func (p *ProgramProfile) InitializerKeys() ([]solana.PublicKey, error) {
	keys := make([]solana.PublicKey, 0, len(p.Initializers))
	for _, s := range p.Initializers {
		k, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("initializer %q: %w", s, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// TreasuryKey parses the treasury.
func (p *ProgramProfile) TreasuryKey() (solana.PublicKey, error) {
	if p.Treasury == "" {
		return solana.PublicKey{}, fmt.Errorf("treasury is required")
	}
	k, err := solana.PublicKeyFromBase58(p.Treasury)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("treasury %q: %w", p.Treasury, err)
	}
	return k, nil
}

// AuthorityKey parses the config authority. An empty authority defaults to
// the first initializer.
func (p *ProgramProfile) AuthorityKey() (solana.PublicKey, error) {
	s := p.Authority
	if s == "" {
		if len(p.Initializers) == 0 {
			return solana.PublicKey{}, fmt.Errorf("authority or an initializer is required")
		}
		s = p.Initializers[0]
	}
	k, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("authority %q: %w", s, err)
	}
	return k, nil
}

// CheckTimeLock fails when seconds exceeds the profile ceiling.
func (p *ProgramProfile) CheckTimeLock(seconds uint32) error {
	if p.MaxTimeLock != 0 && seconds > p.MaxTimeLock {
		return fmt.Errorf("time lock %ds exceeds profile ceiling %ds", seconds, p.MaxTimeLock)
	}
	return nil
}
