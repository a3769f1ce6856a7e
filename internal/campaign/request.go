package campaign

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"
	"github.com/talkincode/toughwa/internal/domain"
)

// InvalidRequestError reports a campaign request rejected before any work starts.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid campaign request: %s %s", e.Field, e.Reason)
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Upper bounds keeping the waits representable as a time.Duration.
var (
	maxMessageInterval = float64(math.MaxInt64) / float64(time.Second)
	maxRestInterval    = float64(math.MaxInt64) / float64(time.Minute)
)

func invalid(field, reason string) error {
	return &InvalidRequestError{Field: field, Reason: reason}
}

type Contact struct {
	ID    domain.ContactID `json:"id"`
	Phone string           `json:"phone"`
}

// Intervals controls the pacing of a campaign.
type Intervals struct {
	MessageInterval float64 `json:"messageInterval"` // seconds after every contact
	BatchSize       int     `json:"batchSize"`
	RestInterval    float64 `json:"restInterval"` // minutes between batches
}

func (i Intervals) MessageWait() time.Duration {
	return time.Duration(i.MessageInterval * float64(time.Second))
}

func (i Intervals) RestWait() time.Duration {
	return time.Duration(i.RestInterval * float64(time.Minute))
}

// number accepts a JSON number or a numeric string.
func number(v interface{}) (float64, error) {
	switch v.(type) {
	case float64, string:
		return cast.ToFloat64E(v)
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}

// UnmarshalJSON accepts numbers or numeric strings for every field.
func (i *Intervals) UnmarshalJSON(b []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return invalid("intervals", "must be an object")
	}
	var err error
	if v, ok := raw["messageInterval"]; ok && v != nil {
		if i.MessageInterval, err = number(v); err != nil {
			return invalid("intervals.messageInterval", "must be a number")
		}
	}
	if v, ok := raw["restInterval"]; ok && v != nil {
		if i.RestInterval, err = number(v); err != nil {
			return invalid("intervals.restInterval", "must be a number")
		}
	}
	if v, ok := raw["batchSize"]; ok && v != nil {
		f, err := number(v)
		if err != nil || f != math.Trunc(f) {
			return invalid("intervals.batchSize", "must be an integer")
		}
		// no request carries more contacts than this
		i.BatchSize = int(min(f, math.MaxInt32))
	}
	return nil
}

// Request is the body of a send-campaign call.
type Request struct {
	CampaignID string
	Contacts   []Contact
	Message    string
	Intervals  *Intervals

	hasContacts bool
}

type rawRequest struct {
	CampaignID interface{}         `json:"campaignId"`
	Contacts   *[]Contact          `json:"contacts"`
	Message    interface{}         `json:"message"`
	Intervals  jsoniter.RawMessage `json:"intervals"`
}

func (r *Request) UnmarshalJSON(b []byte) error {
	var raw rawRequest
	if err := json.Unmarshal(b, &raw); err != nil {
		var ie *InvalidRequestError
		if errors.As(err, &ie) {
			return err
		}
		return invalid("body", err.Error())
	}
	// decoded here so its typed errors reach the caller unwrapped
	if len(raw.Intervals) > 0 && string(raw.Intervals) != "null" {
		var iv Intervals
		if err := iv.UnmarshalJSON(raw.Intervals); err != nil {
			return err
		}
		r.Intervals = &iv
	}
	if raw.CampaignID != nil {
		switch raw.CampaignID.(type) {
		case string, float64:
			r.CampaignID = cast.ToString(raw.CampaignID)
		default:
			return invalid("campaignId", "must be a string or a number")
		}
	}
	if raw.Message != nil {
		msg, ok := raw.Message.(string)
		if !ok {
			return invalid("message", "must be a string")
		}
		r.Message = msg
	}
	if raw.Contacts != nil {
		r.Contacts = *raw.Contacts
		r.hasContacts = true
	}
	return nil
}

// NewRequest builds a request in code, bypassing JSON decoding.
func NewRequest(campaignID, message string, contacts []Contact, intervals Intervals) Request {
	return Request{
		CampaignID:  campaignID,
		Contacts:    contacts,
		Message:     message,
		Intervals:   &intervals,
		hasContacts: contacts != nil,
	}
}

// Validate checks that the request is complete. An empty contact list is valid.
func (r *Request) Validate() error {
	switch {
	case strings.TrimSpace(r.CampaignID) == "":
		return invalid("campaignId", "is required")
	case !r.hasContacts && r.Contacts == nil:
		return invalid("contacts", "is required")
	case r.Message == "":
		return invalid("message", "is required")
	case r.Intervals == nil:
		return invalid("intervals", "is required")
	case r.Intervals.BatchSize < 1:
		return invalid("intervals.batchSize", "must be at least 1")
	case r.Intervals.MessageInterval < 0 || math.IsNaN(r.Intervals.MessageInterval):
		return invalid("intervals.messageInterval", "must not be negative")
	case r.Intervals.MessageInterval >= maxMessageInterval:
		return invalid("intervals.messageInterval", "is too large")
	case r.Intervals.RestInterval < 0 || math.IsNaN(r.Intervals.RestInterval):
		return invalid("intervals.restInterval", "must not be negative")
	case r.Intervals.RestInterval >= maxRestInterval:
		return invalid("intervals.restInterval", "is too large")
	}
	return nil
}

// Batches splits the contacts into consecutive groups of at most size.
func Batches(contacts []Contact, size int) [][]Contact {
	if size < 1 {
		size = 1
	}
	if size > len(contacts) {
		size = max(len(contacts), 1)
	}
	n := len(contacts) / size
	if len(contacts)%size != 0 {
		n++
	}
	out := make([][]Contact, 0, n)
	for i := 0; i < len(contacts); i += size {
		end := i + size
		if end > len(contacts) {
			end = len(contacts)
		}
		out = append(out, contacts[i:end])
	}
	return out
}
