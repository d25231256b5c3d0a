package filter

import (
	"fmt"
	"net/url"
	"strings"
)

// Parse builds a filter from an option string. Two spellings are accepted:
// the colon-delimited command-line form
//
//	epc=3030:zoneNames=DOCK:fromTime=2024-01-01T00:00:00Z
//
// and the query string produced by Render ('&'-delimited, optional leading
// '?'). Attribute values are query-unescaped, so a value containing ':' or
// '&' must be written escaped. A pageMarker value is taken as already
// escaped. Time values are used verbatim.
//
// Values of "*Time" options may themselves contain colons. A segment that
// follows a time option and has no '=' is joined back onto the pending time
// value, until a new key=value segment starts or the input ends.
// An empty string yields the default filter.
func Parse(encoded string) (*Filter, error) {
	f := New()
	encoded = strings.TrimPrefix(encoded, "?")
	if encoded == "" {
		return f, nil
	}

	var pending string
	flush := func() error {
		if pending == "" {
			return nil
		}
		err := f.setPair(pending)
		pending = ""
		return err
	}

	segments := strings.FieldsFunc(encoded, func(r rune) bool { return r == ':' || r == '&' })
	for _, segment := range segments {
		if pending != "" && !strings.Contains(segment, "=") {
			pending += ":" + segment
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		key, _, _ := strings.Cut(segment, "=")
		if strings.Contains(key, "Time") {
			pending = segment
			continue
		}
		if err := f.setPair(segment); err != nil {
			return nil, err
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Filter) setPair(pair string) error {
	key, value, ok := strings.Cut(pair, "=")
	if !ok || key == "" {
		return fmt.Errorf("%w: malformed option %q", ErrInvalidArgument, pair)
	}
	if key == FieldPageMarker {
		if value == "" {
			return fmt.Errorf("%w: empty page marker", ErrInvalidArgument)
		}
		f.pageMarker = value
		return nil
	}
	if !strings.HasSuffix(key, "Time") {
		unescaped, err := url.QueryUnescape(value)
		if err != nil {
			return fmt.Errorf("%w: bad escape in %q: %v", ErrInvalidArgument, pair, err)
		}
		value = unescaped
	}
	return f.Set(key, value)
}
