// Package email delivers challenge codes over SMTP.
package email

import (
	"errors"
	"fmt"
	"net/mail"
	"net/smtp"
	"os"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSubject = "Your NDN certificate challenge code"
	DefaultBody    = "Your PIN for the certificate request $requestId$ of $subjectName$ at $caPrefix$ is $pin$.\r\n"
)

var ErrInvalidAddress = errors.New("invalid email address")

type SMTPConfig struct {
	Smtp struct {
		Identity string `yaml:"identity"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Host     string `yaml:"host"`
		Port     int64  `yaml:"port"`
	} `yaml:"smtp"`
	Email struct {
		CodeEmailSubjectLine string `yaml:"codeEmailSubjectLine"`
		CodeEmailBody        string `yaml:"codeEmailBody"`
	} `yaml:"email"`
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SmtpModule struct {
	Address              string
	Auth                 smtp.Auth
	CodeEmailSubjectLine string
	CodeEmailBody        string
	OriginEmail          string

	sendMail sendFunc
}

func NewSmtpModule(smtpConfigFilePath string) (*SmtpModule, error) {
	smtpConfigFileBuffer, readFileError := os.ReadFile(smtpConfigFilePath)
	if readFileError != nil {
		return nil, readFileError
	}
	smtpConfig := &SMTPConfig{}
	smtpConfigUnmarshalError := yaml.Unmarshal(smtpConfigFileBuffer, smtpConfig)
	if smtpConfigUnmarshalError != nil {
		return nil, fmt.Errorf("in file %q: %w", smtpConfigFilePath, smtpConfigUnmarshalError)
	}
	return NewSmtpModuleFromConfig(smtpConfig)
}

func NewSmtpModuleFromConfig(smtpConfig *SMTPConfig) (*SmtpModule, error) {
	if err := ValidateAddress(smtpConfig.Smtp.Identity); err != nil {
		return nil, fmt.Errorf("smtp identity: %w", err)
	}
	smtpModule := &SmtpModule{
		Address:              fmt.Sprintf("%s:%d", smtpConfig.Smtp.Host, smtpConfig.Smtp.Port),
		Auth:                 smtp.PlainAuth("", smtpConfig.Smtp.Username, smtpConfig.Smtp.Password, smtpConfig.Smtp.Host),
		CodeEmailSubjectLine: smtpConfig.Email.CodeEmailSubjectLine,
		CodeEmailBody:        smtpConfig.Email.CodeEmailBody,
		OriginEmail:          smtpConfig.Smtp.Identity,
		sendMail:             smtp.SendMail,
	}
	if smtpModule.CodeEmailSubjectLine == "" {
		smtpModule.CodeEmailSubjectLine = DefaultSubject
	}
	if smtpModule.CodeEmailBody == "" {
		smtpModule.CodeEmailBody = DefaultBody
	}
	return smtpModule, nil
}

// ValidateAddress accepts a bare address such as alice@example.com.
func ValidateAddress(address string) error {
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return nil
}

// ExpandTemplate replaces every $key$ token in template with values[key]. Unknown tokens are left alone.
func ExpandTemplate(template string, values map[string]string) string {
	pairs := make([]string, 0, 2*len(values))
	for key, value := range values {
		pairs = append(pairs, "$"+key+"$", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Template returns the subject and body templates configured for code emails.
func (smtpModule *SmtpModule) Template() (subject, body string) {
	return smtpModule.CodeEmailSubjectLine, smtpModule.CodeEmailBody
}

func (smtpModule *SmtpModule) buildMessage(to, subject, body string) []byte {
	header := fmt.Sprintf("From: <%s>\r\nTo: <%s>\r\nSubject: %s\r\nDate: %s\r\nMessage-ID: <%s@%s>\r\n"+
		"MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n",
		smtpModule.OriginEmail, to, subject, time.Now().Format(time.RFC1123Z),
		uuid.NewString(), domainOf(smtpModule.OriginEmail))
	return []byte(header + body)
}

func domainOf(address string) string {
	if at := strings.LastIndexByte(address, '@'); at >= 0 {
		return address[at+1:]
	}
	return "localhost"
}

// Send mails body to one recipient.
func (smtpModule *SmtpModule) Send(to, subject, body string) error {
	if err := ValidateAddress(to); err != nil {
		return err
	}
	logger := log.WithField("module", "email")
	sendMailErr := smtpModule.sendMail(smtpModule.Address, smtpModule.Auth, smtpModule.OriginEmail, []string{to}, smtpModule.buildMessage(to, subject, body))
	if sendMailErr != nil {
		logger.Errorf("Failed to send email to %s via %s: %+v", to, smtpModule.Address, sendMailErr)
		return fmt.Errorf("failed to send code challenge email to %s: %w", to, sendMailErr)
	}
	logger.Infof("Sent challenge email to %s", to)
	return nil
}
