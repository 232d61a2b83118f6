package schedule

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/drip/model"
)

type ValidationError struct {
	Index  int
	Type   model.BlockType
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Index < 0 {
		return e.Reason
	}
	if len(e.Field) == 0 {
		return fmt.Sprintf("block %d (%s): %s", e.Index, e.Type, e.Reason)
	}
	return fmt.Sprintf("block %d (%s): %s %s", e.Index, e.Type, e.Field, e.Reason)
}

type Config struct {
	// AllowRecipientOverride permits more than one emailList block. A later
	// list only affects sends that come after it.
	AllowRecipientOverride bool
}

type Result struct {
	Jobs     []*model.JobSpec `json:"jobs"`
	Warnings []string         `json:"warnings,omitempty"`
}

type Compiler struct {
	conf  Config
	newId func() string
}

func NewCompiler(conf Config) *Compiler {
	return &Compiler{
		conf:  conf,
		newId: func() string { return uuid.New().String() },
	}
}

// Compile turns a sequence into job specs. The whole sequence is validated
// before anything is emitted, so a failing block never leaves a partial
// schedule behind.
func (c *Compiler) Compile(flowId string, seq model.Sequence, t0 time.Time) (*Result, error) {
	steps, warnings, err := c.validate(seq)
	if err != nil {
		return nil, err
	}
	return &Result{
		Jobs:     c.emit(flowId, steps, t0),
		Warnings: warnings,
	}, nil
}

func (c *Compiler) validate(seq model.Sequence) ([]step, []string, error) {
	if len(seq) == 0 {
		return nil, nil, ValidationError{Index: -1, Reason: "sequence must contain at least one block"}
	}
	var (
		steps    []step
		warnings []string
		lists    int
	)
	for i, block := range seq {
		switch block.Type {
		case model.BLOCK_TYPE_EMAIL_LIST:
			if lists > 0 && !c.conf.AllowRecipientOverride {
				return nil, nil, ValidationError{Index: i, Type: block.Type, Reason: "only one emailList block is allowed"}
			}
			emails, err := validateRecipients(i, block)
			if err != nil {
				return nil, nil, err
			}
			lists++
			steps = append(steps, emailListStep{index: i, emails: emails})
		case model.BLOCK_TYPE_SEND_EMAIL:
			if lists == 0 {
				return nil, nil, ValidationError{Index: i, Type: block.Type, Reason: "no emailList block precedes this send"}
			}
			if len(strings.TrimSpace(block.Subject)) == 0 {
				return nil, nil, ValidationError{Index: i, Type: block.Type, Field: "subject", Reason: "must not be empty"}
			}
			steps = append(steps, sendEmailStep{index: i, subject: block.Subject, body: block.Body})
		case model.BLOCK_TYPE_WAIT:
			if lists == 0 {
				return nil, nil, ValidationError{Index: i, Type: block.Type, Reason: "sequence must start with an emailList block"}
			}
			d, err := validateWait(i, block)
			if err != nil {
				return nil, nil, err
			}
			steps = append(steps, waitStep{index: i, delay: d})
		default:
			warnings = append(warnings, fmt.Sprintf("block %d: unknown block type %q skipped", i, block.Type))
		}
	}
	if lists == 0 {
		return nil, nil, ValidationError{Index: -1, Reason: "sequence must start with an emailList block"}
	}
	return steps, warnings, nil
}

func validateRecipients(i int, block model.Block) ([]string, error) {
	if len(block.Emails) == 0 {
		return nil, ValidationError{Index: i, Type: block.Type, Field: "emails", Reason: "must not be empty"}
	}
	seen := make(map[string]bool, len(block.Emails))
	emails := make([]string, 0, len(block.Emails))
	for _, e := range block.Emails {
		e = strings.TrimSpace(e)
		addr, err := mail.ParseAddress(e)
		if err != nil || addr.Address != e {
			return nil, ValidationError{Index: i, Type: block.Type, Field: "emails", Reason: fmt.Sprintf("contains invalid address %q", e)}
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		emails = append(emails, e)
	}
	return emails, nil
}

func validateWait(i int, block model.Block) (time.Duration, error) {
	raw := strings.TrimSpace(string(block.Duration))
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, ValidationError{Index: i, Type: block.Type, Field: "duration", Reason: fmt.Sprintf("must be a non-negative integer, got %q", raw)}
	}
	var unit time.Duration
	switch strings.ToLower(strings.TrimSpace(block.Unit)) {
	case model.WAIT_UNIT_SECONDS, "second":
		unit = time.Second
	case model.WAIT_UNIT_MINUTES, "minute":
		unit = time.Minute
	default:
		return 0, ValidationError{Index: i, Type: block.Type, Field: "unit", Reason: fmt.Sprintf("must be seconds or minutes, got %q", block.Unit)}
	}
	if n > int64(maxWait/unit) {
		return 0, ValidationError{Index: i, Type: block.Type, Field: "duration", Reason: "is too large"}
	}
	return time.Duration(n) * unit, nil
}

// maxWait keeps the virtual clock far away from time.Duration overflow.
const maxWait = 24 * 365 * 100 * time.Hour

func (c *Compiler) emit(flowId string, steps []step, t0 time.Time) []*model.JobSpec {
	clock := t0
	var recipients []string
	var jobs []*model.JobSpec
	for _, s := range steps {
		switch st := s.(type) {
		case emailListStep:
			recipients = st.emails
		case waitStep:
			clock = clock.Add(st.delay)
		case sendEmailStep:
			snapshot := append([]string(nil), recipients...)
			for _, to := range snapshot {
				jobs = append(jobs, &model.JobSpec{
					Id:         c.newId(),
					FlowId:     flowId,
					BlockIndex: st.index,
					Recipient:  to,
					Subject:    st.subject,
					Body:       st.body,
					FireAt:     clock,
					State:      model.SCHEDULED,
					CreatedAt:  t0,
					UpdatedAt:  t0,
				})
			}
		}
	}
	return jobs
}
