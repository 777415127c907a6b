// Package work implements the Work descriptor: the unit task definition that
// flows through withdraw, execute, archive, and update. It is grounded on
// the teacher's Task/WorkflowExecution structs (services/orchestrator) and
// on the field set of original_source/chime_frb_api/workflow/work.py, which
// this Go port generalizes from a pydantic model into a validated struct.
package work

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/chimefrb/workflow/internal/werrors"
)

var errValidation = werrors.ErrValidation

// Status is the Work lifecycle state.
type Status string

const (
	StatusCreated Status = "created"
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ArchiveMethod is one action a storage driver can apply to an artifact kind.
type ArchiveMethod string

const (
	MethodBypass ArchiveMethod = "bypass"
	MethodCopy   ArchiveMethod = "copy"
	MethodMove   ArchiveMethod = "move"
	MethodDelete ArchiveMethod = "delete"
	MethodUpload ArchiveMethod = "upload"
)

// sites is the closed set from spec.md §3.
var sites = map[string]bool{
	"chime": true, "kko": true, "gbo": true, "hco": true,
	"canfar": true, "cedar": true, "aro": true, "local": true,
}

// siteAliases maps historical site names to their current form, ported from
// original_source's FutureWarning branch ("allenby" was renamed to "kko").
var siteAliases = map[string]string{"allenby": "kko"}

var pipelineRe = regexp.MustCompile(`^[a-z0-9-]+$`)

// Archive holds the per-artifact-kind archival policy.
type Archive struct {
	Results  bool          `json:"results" yaml:"results"`
	Products ArchiveMethod `json:"products" yaml:"products"`
	Plots    ArchiveMethod `json:"plots" yaml:"plots"`
	Logs     ArchiveMethod `json:"logs" yaml:"logs"`
}

// DefaultArchive returns the spec's default per-kind policy.
func DefaultArchive() Archive {
	return Archive{Results: true, Products: MethodCopy, Plots: MethodCopy, Logs: MethodMove}
}

// Config holds the non-archival per-Work policy knobs.
type Config struct {
	Archive Archive  `json:"archive" yaml:"archive"`
	Parent  string   `json:"parent,omitempty" yaml:"parent,omitempty"`
	Orgs    []string `json:"orgs,omitempty" yaml:"orgs,omitempty"`
	Teams   []string `json:"teams,omitempty" yaml:"teams,omitempty"`
}

// SlackNotify is the optional Slack notification target.
type SlackNotify struct {
	ChannelID string `json:"channel_id,omitempty"`
}

// Notify groups notification channels. Only Slack exists today but the
// shape leaves room for more without breaking the wire format.
type Notify struct {
	Slack SlackNotify `json:"slack,omitempty"`
}

// MaxResultsBytes is the serialized size cap on Work.Results, per spec.md §3/§8.
const MaxResultsBytes = 4 << 20

// Work is the task descriptor and growing result surface described in
// spec.md §3. JSON tags match the Buckets/Results wire contract in §6.
type Work struct {
	ID       string `json:"id,omitempty"`
	Pipeline string `json:"pipeline"`
	Site     string `json:"site"`
	User     string `json:"user"`

	Function   string         `json:"function,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Command    []string       `json:"command,omitempty"`

	Results  map[string]any `json:"results,omitempty"`
	Products []string       `json:"products,omitempty"`
	Plots    []string       `json:"plots,omitempty"`

	Event []int    `json:"event,omitempty"`
	Tags  []string `json:"tags,omitempty"`

	Timeout  int `json:"timeout"`
	Retries  int `json:"retries"`
	Priority int `json:"priority"`
	Attempt  int `json:"attempt"`

	Status Status `json:"status"`

	Creation float64 `json:"creation,omitempty"`
	Start    float64 `json:"start,omitempty"`
	Stop     float64 `json:"stop,omitempty"`

	Config Config `json:"config"`
	Notify Notify `json:"notify,omitempty"`

	// Deprecated fields, accepted on decode for wire compatibility and
	// cleared with a warning by normalize(). Never written by this package.
	Precursors []map[string]string `json:"precursors,omitempty"`
	Path       string              `json:"path,omitempty"`
	LegacyFlag *bool               `json:"archive,omitempty"`
	Group      string              `json:"group,omitempty"`
}

// Option configures a Work at construction time.
type Option func(*Work)

func WithUser(user string) Option           { return func(w *Work) { w.User = user } }
func WithSite(site string) Option           { return func(w *Work) { w.Site = site } }
func WithFunction(fn string) Option         { return func(w *Work) { w.Function = fn } }
func WithCommand(argv []string) Option      { return func(w *Work) { w.Command = argv } }
func WithParameters(p map[string]any) Option { return func(w *Work) { w.Parameters = p } }
func WithTimeout(seconds int) Option        { return func(w *Work) { w.Timeout = seconds } }
func WithRetries(n int) Option              { return func(w *Work) { w.Retries = n } }
func WithPriority(p int) Option             { return func(w *Work) { w.Priority = p } }
func WithTags(tags ...string) Option        { return func(w *Work) { w.Tags = append(w.Tags, tags...) } }
func WithEvent(ids ...int) Option           { return func(w *Work) { w.Event = append(w.Event, ids...) } }
func WithParent(parent string) Option       { return func(w *Work) { w.Config.Parent = parent } }
func WithArchive(a Archive) Option          { return func(w *Work) { w.Config.Archive = a } }
func WithSlackChannel(id string) Option     { return func(w *Work) { w.Notify.Slack.ChannelID = id } }

// New constructs a Work with spec.md §3 defaults, normalizes it, and
// validates its invariants.
func New(pipeline, site, user string, opts ...Option) (*Work, error) {
	w := &Work{
		Pipeline: pipeline,
		Site:     site,
		User:     user,
		Timeout:  3600,
		Retries:  2,
		Priority: 3,
		Status:   StatusCreated,
		Config:   Config{Archive: DefaultArchive()},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.normalize()
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// FromJSON decodes and normalizes a Work from its wire JSON form. It does
// not validate — callers that need a strictly valid Work should call
// Validate() explicitly; a Work withdrawn from Buckets is trusted as-is.
// Archive policy fields present in the payload override the defaults one
// by one, so an explicit results=false is kept.
func FromJSON(data []byte) (*Work, error) {
	w := Work{Config: Config{Archive: DefaultArchive()}}
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode work: %w", err)
	}
	w.normalize()
	return &w, nil
}

// ToJSON serializes the Work to its wire form.
func (w *Work) ToJSON() ([]byte, error) {
	return json.Marshal(w)
}

// normalize reformats the pipeline name, merges WORKFLOW_TAGS, stamps
// creation, rewrites deprecated fields, and rewrites the "allenby" site
// alias — all ported from original_source's post_init root_validator.
func (w *Work) normalize() {
	if w.Pipeline != "" {
		reformatted := reformatPipeline(w.Pipeline)
		if reformatted != w.Pipeline {
			slog.Warn("pipeline name reformatted", "from", w.Pipeline, "to", reformatted)
		}
		w.Pipeline = reformatted
	}

	if w.Creation == 0 {
		w.Creation = float64(time.Now().Unix())
	}

	if envTags := os.Getenv("WORKFLOW_TAGS"); envTags != "" {
		merged := append(append([]string{}, w.Tags...), strings.Split(envTags, ",")...)
		w.Tags = dedupe(merged)
	} else if len(w.Tags) > 0 {
		w.Tags = dedupe(w.Tags)
	}

	if alias, ok := siteAliases[w.Site]; ok {
		slog.Warn("site renamed", "from", w.Site, "to", alias)
		w.Site = alias
	}

	if w.LegacyFlag != nil {
		slog.Warn("work.archive is deprecated, use config.archive instead")
		w.LegacyFlag = nil
	}
	if len(w.Precursors) > 0 {
		slog.Warn("work.precursors is deprecated and has been dropped")
		w.Precursors = nil
	}
	if w.Path != "" {
		slog.Warn("work.path is deprecated and has been dropped")
		w.Path = ""
	}
	if w.Group != "" {
		slog.Warn("work.group is deprecated, use config.orgs|teams instead")
		w.Group = ""
	}

	if w.Config.Archive == (Archive{}) {
		w.Config.Archive = DefaultArchive()
	}
}

func reformatPipeline(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	return s
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

// Validate enforces the invariants of spec.md §3/§8.
func (w *Work) Validate() error {
	if !pipelineRe.MatchString(w.Pipeline) {
		return fmt.Errorf("%w: pipeline %q must match %s", errValidation, w.Pipeline, pipelineRe.String())
	}
	if !sites[w.Site] {
		return fmt.Errorf("%w: site %q is not a recognized site", errValidation, w.Site)
	}
	if w.User == "" {
		return fmt.Errorf("%w: user is required", errValidation)
	}
	if w.Function != "" && len(w.Command) > 0 {
		return fmt.Errorf("%w: exactly one of function or command may be set", errValidation)
	}
	if w.Function == "" && len(w.Command) == 0 {
		return fmt.Errorf("%w: one of function or command must be set", errValidation)
	}
	if w.Timeout < 1 || w.Timeout > 86400 {
		return fmt.Errorf("%w: timeout %d out of range [1, 86400]", errValidation, w.Timeout)
	}
	if w.Retries < 0 || w.Retries >= 6 {
		return fmt.Errorf("%w: retries %d out of range [0, 6)", errValidation, w.Retries)
	}
	if w.Priority < 1 || w.Priority > 5 {
		return fmt.Errorf("%w: priority %d out of range [1, 5]", errValidation, w.Priority)
	}
	if !validStatus(w.Status) {
		return fmt.Errorf("%w: status %q is not recognized", errValidation, w.Status)
	}
	if w.Creation != 0 && w.Start != 0 && w.Creation > w.Start {
		return fmt.Errorf("%w: creation must be <= start", errValidation)
	}
	if w.Start != 0 && w.Stop != 0 && w.Start > w.Stop {
		return fmt.Errorf("%w: start must be <= stop", errValidation)
	}
	return nil
}

func validStatus(s Status) bool {
	switch s {
	case StatusCreated, StatusQueued, StatusRunning, StatusSuccess, StatusFailure:
		return true
	default:
		return false
	}
}

// ResultsSize returns the serialized size of the Results map in bytes, for
// comparison against MaxResultsBytes. It never mutates; callers decide what
// to do with a too-large result (the lifecycle's report step clears it).
func (w *Work) ResultsSize() (int, error) {
	if w.Results == nil {
		return 0, nil
	}
	data, err := json.Marshal(w.Results)
	if err != nil {
		return 0, fmt.Errorf("marshal results: %w", err)
	}
	return len(data), nil
}
