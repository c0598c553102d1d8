// Package registry holds the wire types of the MIT registry API and the
// transformer that flattens a summary item plus its detail record into
// one output row.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks a response whose JSON shape does not match the
// registry envelope.
var ErrMalformed = errors.New("malformed registry response")

// Listing is the decoded envelope of a listing request:
//
//	{"result": {"count": 250, "items": [{"mit_id": "...", "manufactorer": "..."}]}}
//
// Items stays raw so a single bad item cannot spoil its page.
type Listing struct {
	Count int
	Items []json.RawMessage
}

// SummaryItem is one entry of a listing page.
type SummaryItem struct {
	MitID        string
	Manufacturer string
}

type listingEnvelope struct {
	Result *struct {
		Count *json.Number      `json:"count"`
		Items []json.RawMessage `json:"items"`
	} `json:"result"`
}

// DecodeListing parses a listing body. Items is nil when the envelope has
// no items array, which is valid for the count query (rows=0) only.
func DecodeListing(body []byte) (Listing, error) {
	var env listingEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return Listing{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Result == nil {
		return Listing{}, fmt.Errorf("%w: missing result", ErrMalformed)
	}
	if env.Result.Count == nil {
		return Listing{}, fmt.Errorf("%w: missing result.count", ErrMalformed)
	}
	count, err := env.Result.Count.Int64()
	if err != nil || count < 0 {
		return Listing{}, fmt.Errorf("%w: result.count %q is not a non-negative integer", ErrMalformed, env.Result.Count.String())
	}
	return Listing{Count: int(count), Items: env.Result.Items}, nil
}

// DecodeSummary parses one listing item. The item must carry a string
// mit_id and a manufactorer key (the API's spelling); a null
// manufacturer decodes to "".
func DecodeSummary(raw json.RawMessage) (SummaryItem, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return SummaryItem{}, fmt.Errorf("%w: summary item: %v", ErrMalformed, err)
	}

	var item SummaryItem
	id, ok := fields["mit_id"]
	if !ok {
		return SummaryItem{}, fmt.Errorf("%w: summary item without mit_id", ErrMalformed)
	}
	if err := json.Unmarshal(id, &item.MitID); err != nil || item.MitID == "" {
		return SummaryItem{}, fmt.Errorf("%w: mit_id %s is not a string", ErrMalformed, string(id))
	}

	manufacturer, ok := fields["manufactorer"]
	if !ok {
		return item, fmt.Errorf("%w: item %s without manufactorer", ErrMalformed, item.MitID)
	}
	text, err := renderText(manufacturer)
	if err != nil {
		return item, fmt.Errorf("item %s manufactorer: %w", item.MitID, err)
	}
	item.Manufacturer = text
	return item, nil
}
