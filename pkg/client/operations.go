package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/go-querystring/query"
	"github.com/samber/lo"

	"github.com/hausnetz/wn-smartmeter-client/pkg/pagination"
)

// ValueType selects the resolution of the measured-values endpoints.
type ValueType string

const (
	// ValueTypeQuarterHour selects quarter-hourly readings.
	ValueTypeQuarterHour ValueType = "QUARTER_HOUR"

	// ValueTypeDay selects daily readings.
	ValueTypeDay ValueType = "DAY"

	// ValueTypeMeterRead selects raw meter readings.
	ValueTypeMeterRead ValueType = "METER_READ"
)

// Default chunk sizes, matching the gateway's per-request limits.
const (
	DefaultAggregateChunkDays = 30
	DefaultReadingChunkDays   = 7
)

// defaultRangeYears is the trailing window applied when no range is
// given for a measured-values query.
const defaultRangeYears = 3

// ValuesOptions narrow a measured-values query.
type ValuesOptions struct {
	// MeterID limits the query to one metering point. Empty means all
	// metering points of the account.
	MeterID string

	// Range is the calendar date range. Nil means the last three
	// years ending today.
	Range *pagination.Range
}

type meteringPointsParams struct {
	ResultType string `url:"resultType"`
}

type measuredValuesParams struct {
	ValueType string `url:"wertetyp"`
	DateFrom  string `url:"datumVon"`
	DateTo    string `url:"datumBis"`
}

// GetMeteringPointData fetches metadata for one metering point, or
// for all metering points of the account when meterID is empty.
// Single request, never chunked.
func (c *Client) GetMeteringPointData(ctx context.Context, meterID string) (Payload, error) {
	if meterID == "" {
		q, err := query.Values(meteringPointsParams{ResultType: "ALL"})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return c.do(ctx, http.MethodGet, "zaehlpunkte", q)
	}
	return c.do(ctx, http.MethodGet, "zaehlpunkte/"+url.PathEscape(meterID), nil)
}

// GetMeasuredValues fetches measured values of the given type in a
// single request. A nil Range defaults to the last three years.
func (c *Client) GetMeasuredValues(ctx context.Context, typ ValueType, opts ValuesOptions) (Payload, error) {
	rng, err := resolveRange(opts.Range)
	if err != nil {
		return nil, err
	}
	return c.getMeasuredValues(ctx, typ, opts.MeterID, rng)
}

// GetMeasuredValuesChunked fetches measured values over a large range
// by splitting it into chunks of at most chunkDays days and issuing
// one request per chunk, sequentially. chunkDays <= 0 selects the
// per-type default. The result preserves chronological chunk order.
func (c *Client) GetMeasuredValuesChunked(ctx context.Context, typ ValueType, opts ValuesOptions, chunkDays int) ([]Payload, error) {
	if err := validateValueType(typ); err != nil {
		return nil, err
	}
	rng, err := resolveRange(opts.Range)
	if err != nil {
		return nil, err
	}
	if chunkDays <= 0 {
		chunkDays = defaultChunkDays(typ)
	}

	raw, err := pagination.FetchAll(ctx, rng, chunkDays, func(ctx context.Context, r pagination.Range) ([]byte, error) {
		p, err := c.getMeasuredValues(ctx, typ, opts.MeterID, r)
		return []byte(p), err
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(raw, func(b []byte, _ int) Payload { return Payload(b) }), nil
}

// GetQuarterHourValues fetches quarter-hour-resolution readings.
func (c *Client) GetQuarterHourValues(ctx context.Context, opts ValuesOptions) (Payload, error) {
	return c.GetMeasuredValues(ctx, ValueTypeQuarterHour, opts)
}

// GetQuarterHourValuesChunked is the chunked variant of
// GetQuarterHourValues. The default chunk size is 30 days.
func (c *Client) GetQuarterHourValuesChunked(ctx context.Context, opts ValuesOptions, chunkDays int) ([]Payload, error) {
	return c.GetMeasuredValuesChunked(ctx, ValueTypeQuarterHour, opts, chunkDays)
}

// GetDailyValues fetches daily-resolution readings.
func (c *Client) GetDailyValues(ctx context.Context, opts ValuesOptions) (Payload, error) {
	return c.GetMeasuredValues(ctx, ValueTypeDay, opts)
}

// GetDailyValuesChunked is the chunked variant of GetDailyValues. The
// default chunk size is 30 days.
func (c *Client) GetDailyValuesChunked(ctx context.Context, opts ValuesOptions, chunkDays int) ([]Payload, error) {
	return c.GetMeasuredValuesChunked(ctx, ValueTypeDay, opts, chunkDays)
}

// GetMeterReadings fetches raw meter readings for an explicit date
// range. The meter identifier and range are mandatory.
func (c *Client) GetMeterReadings(ctx context.Context, meterID string, rng pagination.Range) (Payload, error) {
	if err := validateMeterID(meterID); err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return c.getMeasuredValues(ctx, ValueTypeMeterRead, meterID, rng)
}

// GetMeterReadingsChunked fetches raw meter readings in chunks of at
// most chunkDays days each. chunkDays <= 0 defaults to 7 days.
func (c *Client) GetMeterReadingsChunked(ctx context.Context, meterID string, rng pagination.Range, chunkDays int) ([]Payload, error) {
	if err := validateMeterID(meterID); err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if chunkDays <= 0 {
		chunkDays = DefaultReadingChunkDays
	}

	raw, err := pagination.FetchAll(ctx, rng, chunkDays, func(ctx context.Context, r pagination.Range) ([]byte, error) {
		p, err := c.getMeasuredValues(ctx, ValueTypeMeterRead, meterID, r)
		return []byte(p), err
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(raw, func(b []byte, _ int) Payload { return Payload(b) }), nil
}

// getMeasuredValues issues one measured-values request for a resolved
// range.
func (c *Client) getMeasuredValues(ctx context.Context, typ ValueType, meterID string, rng pagination.Range) (Payload, error) {
	if err := validateValueType(typ); err != nil {
		return nil, err
	}

	q, err := query.Values(measuredValuesParams{
		ValueType: string(typ),
		DateFrom:  rng.From.String(),
		DateTo:    rng.To.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	path := "zaehlpunkte/messwerte"
	if meterID != "" {
		path = "zaehlpunkte/" + url.PathEscape(meterID) + "/messwerte"
	}

	c.logger.Debug().
		Str("value_type", string(typ)).
		Str("range", rng.String()).
		Str("endpoint", path).
		Msg("Fetching measured values")

	return c.do(ctx, http.MethodGet, path, q)
}

func resolveRange(r *pagination.Range) (pagination.Range, error) {
	if r == nil {
		return pagination.LastYears(defaultRangeYears), nil
	}
	if err := r.Validate(); err != nil {
		return pagination.Range{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return *r, nil
}

func validateMeterID(meterID string) error {
	if meterID == "" {
		return fmt.Errorf("%w: meter id is required", ErrValidation)
	}
	return nil
}

func defaultChunkDays(typ ValueType) int {
	if typ == ValueTypeMeterRead {
		return DefaultReadingChunkDays
	}
	return DefaultAggregateChunkDays
}

func validateValueType(typ ValueType) error {
	switch typ {
	case ValueTypeQuarterHour, ValueTypeDay, ValueTypeMeterRead:
		return nil
	default:
		return fmt.Errorf("%w: unknown value type %q", ErrValidation, typ)
	}
}
