package versioning

import (
	"fmt"
	"regexp"
	"strconv"
)

// APIVersion is the semantic version of the /v1 HTTP surface.
type APIVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

func (v APIVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1.
func (v APIVersion) Compare(other APIVersion) int {
	switch {
	case v.Major != other.Major:
		return sign(v.Major - other.Major)
	case v.Minor != other.Minor:
		return sign(v.Minor - other.Minor)
	default:
		return sign(v.Patch - other.Patch)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

var (
	V1_0_0 = APIVersion{Major: 1}
	V1_1_0 = APIVersion{Major: 1, Minor: 1}
)

var (
	CurrentVersion          = V1_1_0
	MinimumSupportedVersion = V1_0_0
)

var versionPattern = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?$`)

// ParseVersion accepts "1", "1.1", "1.1.0" and an optional leading "v".
func ParseVersion(s string) (APIVersion, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return APIVersion{}, fmt.Errorf("invalid version format: %s", s)
	}
	parts := [3]int{}
	for i := 0; i < 3; i++ {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return APIVersion{}, fmt.Errorf("invalid version component %q: %w", m[i+1], err)
		}
		parts[i] = n
	}
	return APIVersion{Major: parts[0], Minor: parts[1], Patch: parts[2]}, nil
}

// Feature is an API capability and the version that introduced it.
type Feature struct {
	Name         string     `json:"name"`
	IntroducedIn APIVersion `json:"introduced_in"`
	Description  string     `json:"description"`
}

const (
	FeatureTemplateSend   = "template_send"
	FeatureContacts       = "contacts"
	FeatureScheduled      = "scheduled_messages"
	FeatureDLQReplay      = "dlq_replay"
	FeatureWebhookBatches = "webhook_batches"
	FeatureSystemConfig   = "system_config"
)

var Features = []Feature{
	{FeatureTemplateSend, V1_0_0, "Template and session sends through the outbound engine"},
	{FeatureContacts, V1_0_0, "Contact CRUD with consent updates"},
	{FeatureScheduled, V1_0_0, "Scheduled template messages"},
	{FeatureDLQReplay, V1_0_0, "Dead-letter queue listing and replay"},
	{FeatureWebhookBatches, V1_1_0, "Webhook deliveries carrying a records array"},
	{FeatureSystemConfig, V1_1_0, "Runtime system configuration keys"},
}

// Supports reports whether v includes the named feature.
func Supports(v APIVersion, name string) bool {
	for _, f := range Features {
		if f.Name == name {
			return v.Compare(f.IntroducedIn) >= 0
		}
	}
	return false
}

// Compatibility describes how a requested version relates to what the server serves.
type Compatibility struct {
	Requested  APIVersion `json:"requested_version"`
	Current    APIVersion `json:"current_version"`
	Compatible bool       `json:"compatible"`
	Reason     string     `json:"reason,omitempty"`
}

func CheckCompatibility(requested APIVersion) Compatibility {
	c := Compatibility{Requested: requested, Current: CurrentVersion}
	switch {
	case requested.Compare(MinimumSupportedVersion) < 0:
		c.Reason = fmt.Sprintf("version %s is no longer supported, minimum is %s", requested, MinimumSupportedVersion)
	case requested.Compare(CurrentVersion) > 0:
		c.Reason = fmt.Sprintf("version %s is not available, current is %s", requested, CurrentVersion)
	default:
		c.Compatible = true
	}
	return c
}

// SupportedRange renders the range advertised in response headers.
func SupportedRange() string {
	return MinimumSupportedVersion.String() + " - " + CurrentVersion.String()
}
