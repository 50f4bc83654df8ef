package commands

import (
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/pulse/execution"
	"github.com/teranos/dialpulse/pulse/queue"
	"github.com/teranos/dialpulse/pulse/recurrence"
)

// manifest is the YAML document read by the apply and load commands
type manifest struct {
	Campaigns []execution.Campaign `yaml:"campaigns"`
	Schedules []execution.Schedule `yaml:"schedules"`
	Holidays  []execution.Holiday  `yaml:"holidays"`
	Records   []queue.Record       `yaml:"records"`
}

func decodeManifest(r io.Reader) (*manifest, error) {
	var m manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.Wrap(errors.ErrInvalidRequest, "manifest is empty")
		}
		return nil, errors.Wrap(err, "failed to parse manifest")
	}
	return &m, nil
}

func readManifest(path string) (*manifest, error) {
	if path == "" {
		return nil, errors.New("--file is required")
	}
	if path == "-" {
		return decodeManifest(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	return decodeManifest(f)
}

// problemsError folds validation problems into one invalid-request error
func problemsError(what string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return errors.Wrapf(errors.ErrInvalidRequest, "%s is invalid:\n  - %s", what, strings.Join(problems, "\n  - "))
}

// validate checks every entity in the manifest
func (m *manifest) validate() error {
	for i := range m.Campaigns {
		if err := problemsError("campaign "+m.Campaigns[i].ID, execution.ValidateCampaign(&m.Campaigns[i])); err != nil {
			return err
		}
	}
	for i := range m.Schedules {
		if err := problemsError("schedule "+m.Schedules[i].ID, execution.ValidateSchedule(&m.Schedules[i])); err != nil {
			return err
		}
	}
	for _, h := range m.Holidays {
		if h.ID == "" {
			return errors.Wrapf(errors.ErrInvalidRequest, "holiday %q needs an id", h.Name)
		}
		if _, err := time.Parse(recurrence.DateLayout, h.ISODate); err != nil {
			return errors.Wrapf(errors.ErrInvalidRequest, "holiday %s: iso_date %q is not YYYY-MM-DD", h.ID, h.ISODate)
		}
	}
	return nil
}

// groupRecords assigns records to ceID when given and counts them per execution
func groupRecords(records []queue.Record, ceID string) (map[string]int, error) {
	counts := make(map[string]int)
	for i := range records {
		if ceID != "" {
			records[i].CampaignExecutionID = ceID
		}
		if records[i].CampaignExecutionID == "" {
			return nil, errors.Wrapf(errors.ErrInvalidRequest,
				"record %q has no campaign_execution_id (pass --campaign-execution)", records[i].RecordID)
		}
		counts[records[i].CampaignExecutionID]++
	}
	return counts, nil
}
