package analysis

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

var (
	grossCostKeys = []string{"usage", "cost", "total_cost"}
	cacheCostKeys = []string{"usage_cache", "cache_cost"}
	dataCostKeys  = []string{"usage_data", "data_cost"}
	webCostKeys   = []string{"usage_web", "web_cost"}
	fileCostKeys  = []string{"usage_file", "file_cost"}
)

// parseUsageCosts reads the cost fields AI gateways attach to responses.
// Later payloads win over earlier ones, so pass the response body first and
// the usage object last. Values are decoded from their JSON text, never
// through float64.
func parseUsageCosts(payloads ...string) Usage {
	var usage Usage

	for _, payload := range payloads {
		if payload == "" {
			continue
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(payload), &fields); err != nil {
			continue
		}

		if gross := lookupDecimal(fields, grossCostKeys); gross.Valid {
			usage.Gross = gross.Decimal
		}
		usage.Cache = mergeDecimal(usage.Cache, lookupDecimal(fields, cacheCostKeys))
		usage.Data = mergeDecimal(usage.Data, lookupDecimal(fields, dataCostKeys))
		usage.Web = mergeDecimal(usage.Web, lookupDecimal(fields, webCostKeys))
		usage.File = mergeDecimal(usage.File, lookupDecimal(fields, fileCostKeys))
	}

	return usage
}

// lookupDecimal returns the first key holding a number or numeric string.
// Objects, nulls and garbage are treated as absent.
func lookupDecimal(fields map[string]json.RawMessage, keys []string) decimal.NullDecimal {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}

		var value decimal.NullDecimal
		if err := json.Unmarshal(raw, &value); err != nil || !value.Valid {
			continue
		}
		return value
	}
	return decimal.NullDecimal{}
}

func mergeDecimal(current, next decimal.NullDecimal) decimal.NullDecimal {
	if next.Valid {
		return next
	}
	return current
}
