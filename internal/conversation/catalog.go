package conversation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog holds every user-facing text the engine can send. The embedded
// defaults can be overridden by a YAML file on disk so operators can
// change copy without a rebuild.
type Catalog struct {
	Welcome        string `yaml:"welcome"`
	StartHint      string `yaml:"startHint"`
	Help           string `yaml:"help"`
	UnknownCommand string `yaml:"unknownCommand"`
	Cancelled      string `yaml:"cancelled"`
	CancelledInfo  string `yaml:"cancelledInfo"`
	CompletedInfo  string `yaml:"completedInfo"`
	StateReset     string `yaml:"stateReset"`
	RetrySuffix    string `yaml:"retrySuffix"`

	AskPhone         string `yaml:"askPhone"`
	SharePhoneButton string `yaml:"sharePhoneButton"`

	AskCapital   string   `yaml:"askCapital"`
	CapitalRetry string   `yaml:"capitalRetry"`
	CapitalBands []string `yaml:"capitalBands"`

	AskAccountID string `yaml:"askAccountID"`
	ReferralLink string `yaml:"referralLink"`
	TutorialLink string `yaml:"tutorialLink"`

	Summary          string `yaml:"summary"`
	Waiting          string `yaml:"waiting"`
	CompletionNotice string `yaml:"completionNotice"`
	ChannelLink      string `yaml:"channelLink"`

	Validation ValidationTexts `yaml:"validation"`
}

// ValidationTexts are the localized reasons attached to ValidationErrors.
type ValidationTexts struct {
	NameEmpty      string `yaml:"nameEmpty"`
	NameShape      string `yaml:"nameShape"`
	PhoneEmpty     string `yaml:"phoneEmpty"`
	PhoneShape     string `yaml:"phoneShape"`
	AccountIDEmpty string `yaml:"accountIdEmpty"`
	AccountIDShape string `yaml:"accountIdShape"`
}

// LoadCatalog parses the embedded catalog, then overlays the YAML file at
// path when it exists. An empty path means embedded defaults only.
func LoadCatalog(path string) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(defaultCatalog, &cat); err != nil {
		return nil, fmt.Errorf("parse embedded catalog: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return &cat, nil
			}
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
	}

	if err := cat.validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *Catalog) validate() error {
	if len(c.CapitalBands) != 5 {
		return fmt.Errorf("catalog: expected 5 capital bands, got %d", len(c.CapitalBands))
	}
	if c.Welcome == "" || c.Waiting == "" || c.CompletionNotice == "" {
		return fmt.Errorf("catalog: required texts missing")
	}
	return nil
}

// Render substitutes {placeholder} pairs into a catalog text.
func Render(text string, pairs ...string) string {
	if len(pairs) == 0 {
		return text
	}
	oldnew := make([]string, 0, len(pairs))
	for i := 0; i+1 < len(pairs); i += 2 {
		oldnew = append(oldnew, "{"+pairs[i]+"}", pairs[i+1])
	}
	return strings.NewReplacer(oldnew...).Replace(text)
}

// CompletionMessage is the final payment-confirmed notification text.
func (c *Catalog) CompletionMessage() string {
	return Render(c.CompletionNotice, "channelLink", c.ChannelLink)
}
