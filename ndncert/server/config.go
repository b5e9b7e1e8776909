package server

import (
	"fmt"
	"os"
	"time"

	"github.com/apex/log"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"gopkg.in/yaml.v3"

	"github.com/UCLA-IRL/go-ndncert/email"
	"github.com/UCLA-IRL/go-ndncert/ndncert/challenge"
	"github.com/UCLA-IRL/go-ndncert/security"
	"github.com/UCLA-IRL/go-ndncert/store"
)

type CaConfig struct {
	Ca struct {
		Name                         string             `yaml:"name"`
		Info                         string             `yaml:"info"`
		MaxCertificateValidityPeriod uint64             `yaml:"maxCertificateValidityPeriod"` // seconds
		ProbeParameterKeys           []string           `yaml:"probeParameterKeys"`
		IssuerId                     string             `yaml:"issuerId"`
		ForwardingHint               string             `yaml:"forwardingHint"`
		KeyFile                      string             `yaml:"keyFile"`
		StorePath                    string             `yaml:"storePath"`
		SmtpConfig                   string             `yaml:"smtpConfig"`
		Challenges                   []challenge.Config `yaml:"challenges"`
		RequestTimeout               uint64             `yaml:"requestTimeout"` // seconds
		SweepInterval                uint64             `yaml:"sweepInterval"`  // seconds
	} `yaml:"ca"`
}

func LoadCaConfig(caConfigFilePath string) (*CaConfig, error) {
	caConfigFileBuffer, readFileError := os.ReadFile(caConfigFilePath)
	if readFileError != nil {
		return nil, readFileError
	}
	caConfig := &CaConfig{}
	if unmarshalError := yaml.Unmarshal(caConfigFileBuffer, caConfig); unmarshalError != nil {
		return nil, fmt.Errorf("in file %q: %w", caConfigFilePath, unmarshalError)
	}
	if caConfig.Ca.Name == "" {
		return nil, fmt.Errorf("in file %q: ca.name is required", caConfigFilePath)
	}
	return caConfig, nil
}

// NewCaStateFromConfig opens the key, store and mailer named by caConfig. Hooks not set by the caller
// are filled from the configuration: an smtpConfig file provides the mailer and the email template.
func NewCaStateFromConfig(caConfig *CaConfig, hooks challenge.Hooks) (*CaState, error) {
	logger := log.WithField("module", "ca")
	c := caConfig.Ca
	caPrefix, err := enc.NameFromStr(c.Name)
	if err != nil {
		return nil, fmt.Errorf("ca.name: %w", err)
	}
	var forwardingHint enc.Name
	if c.ForwardingHint != "" {
		if forwardingHint, err = enc.NameFromStr(c.ForwardingHint); err != nil {
			return nil, fmt.Errorf("ca.forwardingHint: %w", err)
		}
	}

	key, err := security.GenerateKey()
	if c.KeyFile != "" {
		var created bool
		key, created, err = security.LoadOrCreatePrivateKey(c.KeyFile)
		if created {
			logger.Infof("Generated a new CA key at %s", c.KeyFile)
		}
	}
	if err != nil {
		return nil, err
	}

	if c.SmtpConfig != "" && hooks.Mailer == nil {
		smtpModule, err := email.NewSmtpModule(c.SmtpConfig)
		if err != nil {
			return nil, err
		}
		hooks.Mailer = smtpModule
		if hooks.Subject == "" && hooks.Body == "" {
			hooks.Subject, hooks.Body = smtpModule.Template()
		}
	}
	registry, err := challenge.FromConfig(c.Challenges, hooks)
	if err != nil {
		return nil, err
	}

	var certStore store.CertStore = store.NewMemStore()
	if c.StorePath != "" {
		if certStore, err = store.NewBoltStore(c.StorePath); err != nil {
			return nil, err
		}
	}

	caState, err := NewCaState(Options{
		CaPrefix:       caPrefix,
		CaInfo:         c.Info,
		MaxValidity:    time.Duration(c.MaxCertificateValidityPeriod) * time.Second,
		ProbeKeys:      c.ProbeParameterKeys,
		IssuerId:       c.IssuerId,
		ForwardingHint: forwardingHint,
		Key:            key,
		Challenges:     registry,
		Store:          certStore,
		RequestTimeout: time.Duration(c.RequestTimeout) * time.Second,
		SweepInterval:  time.Duration(c.SweepInterval) * time.Second,
	})
	if err != nil {
		certStore.Close()
		return nil, err
	}
	return caState, nil
}
