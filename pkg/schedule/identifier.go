package schedule

import "strings"

// ParsedID is a canonical resource identifier broken into its components.
// Format: "<partition>:<subPartition>:<service>:<region>:<accountId>:<resource>"
// where region is the 4th colon-separated segment and the account id the
// 5th (spec.md §6), and <resource> is "<kind>/<localId>". Container
// services additionally encode their parent cluster in the resource
// portion as "<kind>/<clusterId>/<serviceId>".
type ParsedID struct {
	Partition string
	Region    string
	AccountID string
	Kind      Kind
	LocalID   string
	ParentID  string // populated for container-service ids
}

// ParseCanonicalID parses a canonical resource identifier. It rejects any
// identifier with fewer than 5 colon-separated segments with an
// *InvalidResourceIdentifierError, per spec.md §6.
func ParseCanonicalID(id string) (ParsedID, error) {
	segments := strings.SplitN(id, ":", 6)
	if len(segments) < 5 {
		return ParsedID{}, &InvalidResourceIdentifierError{ID: id, Reason: "fewer than 5 colon-separated segments"}
	}

	parsed := ParsedID{
		Partition: segments[0],
		Region:    segments[3],
		AccountID: segments[4],
	}

	var resource string
	if len(segments) == 6 {
		resource = segments[5]
	}

	kind, rest, ok := strings.Cut(resource, "/")
	if !ok {
		return ParsedID{}, &InvalidResourceIdentifierError{ID: id, Reason: "resource portion missing kind/local-id split"}
	}
	parsed.Kind = Kind(kind)
	parsed.LocalID = rest

	if parsed.Kind == KindContainerService {
		parent, local, ok := strings.Cut(parsed.LocalID, "/")
		if !ok {
			return ParsedID{}, &InvalidResourceIdentifierError{ID: id, Reason: "container-service identifier missing parent/local split"}
		}
		parsed.ParentID = parent
		parsed.LocalID = local
	}

	if parsed.Region == "" || parsed.AccountID == "" || parsed.LocalID == "" {
		return ParsedID{}, &InvalidResourceIdentifierError{ID: id, Reason: "empty region, account, or local id"}
	}

	return parsed, nil
}
