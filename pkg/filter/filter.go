// Package filter builds and parses query strings for the items listing
// endpoint.
//
// A Filter holds the optional listing attributes plus the opaque page marker
// used to walk result pages. Render produces a canonical query string: for a
// given set of values it always yields the same bytes, so rendered filters
// can be compared, logged, and diffed directly.
//
// Inside this module filters are passed around as values or built from a
// field map (FromFields). The colon-delimited option string accepted by
// Parse exists only for command-line input.
package filter

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/itemsense-client/pkg/model"
)

// DefaultPageSize is used when no page size is set.
const DefaultPageSize = 1000

// Field names accepted by Set, FromFields and Parse.
const (
	FieldEPCPrefix          = "epcPrefix"
	FieldZoneNames          = "zoneNames"
	FieldPresenceConfidence = "presenceConfidence"
	FieldEPCFormat          = "epcFormat"
	FieldFacility           = "facility"
	FieldPageSize           = "pageSize"
	FieldFromTime           = "fromTime"
	FieldPageMarker         = "pageMarker"

	// fieldEPCAlias is the short name the option-string format uses.
	fieldEPCAlias = "epc"
)

// ErrInvalidArgument is returned for empty or malformed field values.
var ErrInvalidArgument = errors.New("invalid argument")

// Filter is the set of query options for one items listing request.
// The zero value is not ready for use; call New.
type Filter struct {
	epcPrefix          string
	zoneNames          string
	presenceConfidence string
	epcFormat          string
	facility           string
	fromTime           *time.Time
	pageMarker         string
	pageSize           int
}

// New returns an empty filter with the default page size.
func New() *Filter {
	return &Filter{pageSize: DefaultPageSize}
}

// FromFields builds a filter from a field-name → value map.
func FromFields(fields map[string]string) (*Filter, error) {
	f := New()
	for _, name := range fieldOrder {
		value, ok := fields[name]
		if !ok {
			continue
		}
		if err := f.Set(name, value); err != nil {
			return nil, err
		}
	}
	for name := range fields {
		if !knownField(name) {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidArgument, name)
		}
	}
	return f, nil
}

var fieldOrder = []string{
	FieldEPCPrefix,
	fieldEPCAlias,
	FieldZoneNames,
	FieldPresenceConfidence,
	FieldEPCFormat,
	FieldFacility,
	FieldPageSize,
	FieldFromTime,
}

func knownField(name string) bool {
	for _, f := range fieldOrder {
		if f == name {
			return true
		}
	}
	return false
}

// Set assigns one optional attribute by name.
func (f *Filter) Set(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: empty value for %q", ErrInvalidArgument, name)
	}

	switch name {
	case FieldEPCPrefix, fieldEPCAlias:
		f.epcPrefix = value
	case FieldZoneNames:
		f.zoneNames = value
	case FieldPresenceConfidence:
		f.presenceConfidence = value
	case FieldEPCFormat:
		f.epcFormat = value
	case FieldFacility:
		f.facility = value
	case FieldPageSize:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: page size %q must be a positive integer", ErrInvalidArgument, value)
		}
		f.pageSize = n
	case FieldFromTime:
		t, err := model.ParseTimestamp(value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		f.fromTime = &t
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalidArgument, name)
	}
	return nil
}

// SetPageMarker stores a query-escaped copy of token, or clears the marker
// when token is nil.
func (f *Filter) SetPageMarker(token *string) error {
	if token == nil {
		f.pageMarker = ""
		return nil
	}
	if *token == "" {
		return fmt.Errorf("%w: empty page marker", ErrInvalidArgument)
	}
	f.pageMarker = url.QueryEscape(*token)
	return nil
}

// PageMarker returns the escaped page marker, or "" when unset.
func (f *Filter) PageMarker() string { return f.pageMarker }

// PageSize returns the configured page size.
func (f *Filter) PageSize() int { return f.pageSize }

// FromTime returns the parsed fromTime option, if any. It is never rendered;
// callers apply it client-side.
func (f *Filter) FromTime() (time.Time, bool) {
	if f.fromTime == nil {
		return time.Time{}, false
	}
	return *f.fromTime, true
}

// Fields returns the set attributes keyed by field name. The page marker is
// omitted; it belongs to a page walk, not to the filter definition.
func (f *Filter) Fields() map[string]string {
	out := map[string]string{FieldPageSize: strconv.Itoa(f.pageSize)}
	put := func(name, value string) {
		if value != "" {
			out[name] = value
		}
	}
	put(FieldEPCPrefix, f.epcPrefix)
	put(FieldZoneNames, f.zoneNames)
	put(FieldPresenceConfidence, f.presenceConfidence)
	put(FieldEPCFormat, f.epcFormat)
	put(FieldFacility, f.facility)
	if f.fromTime != nil {
		out[FieldFromTime] = f.fromTime.Format(time.RFC3339Nano)
	}
	return out
}

// Clone returns an independent copy of f.
func (f *Filter) Clone() *Filter {
	c := *f
	if f.fromTime != nil {
		t := *f.fromTime
		c.fromTime = &t
	}
	return &c
}

// Render returns the canonical query string, without the leading '?'.
// Format: pageSize=<n>[&epcPrefix=..][&zoneNames=..][&presenceConfidence=..]
// [&epcFormat=..][&facility=..][&pageMarker=..]
//
// Attribute values are query-escaped; the page marker is stored escaped and
// written as is.
func (f *Filter) Render() string {
	var sb strings.Builder
	sb.WriteString(FieldPageSize)
	sb.WriteByte('=')
	sb.WriteString(strconv.Itoa(f.pageSize))

	for _, kv := range [...]struct{ name, value string }{
		{FieldEPCPrefix, url.QueryEscape(f.epcPrefix)},
		{FieldZoneNames, url.QueryEscape(f.zoneNames)},
		{FieldPresenceConfidence, url.QueryEscape(f.presenceConfidence)},
		{FieldEPCFormat, url.QueryEscape(f.epcFormat)},
		{FieldFacility, url.QueryEscape(f.facility)},
		{FieldPageMarker, f.pageMarker},
	} {
		if kv.value == "" {
			continue
		}
		sb.WriteByte('&')
		sb.WriteString(kv.name)
		sb.WriteByte('=')
		sb.WriteString(kv.value)
	}
	return sb.String()
}

// String implements fmt.Stringer.
func (f *Filter) String() string { return f.Render() }
