package gate

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"tilegate/models"
)

const (
	// whereAll is the neutral predicate used when a client supplies none.
	whereAll = "1=1"

	defaultRecordCount = 200
	maxRecordCount     = 2000

	defaultIdentifyCount = 5
	maxIdentifyCount     = 20
)

// ParamError identifies the offending request parameter. It is the only
// error type handlers surface verbatim to clients.
type ParamError struct {
	Name string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameter: %s", e.Name)
}

type QueryParams struct {
	Where             string
	OutFields         string
	OrderByFields     string
	ResultOffset      int
	ResultRecordCount int
	ReturnDistinct    bool
}

func ParseQueryParams(q url.Values) (QueryParams, error) {
	p := QueryParams{
		Where:             q.Get("where"),
		OutFields:         q.Get("outFields"),
		OrderByFields:     q.Get("orderByFields"),
		ResultRecordCount: defaultRecordCount,
	}
	if p.Where == "" {
		p.Where = whereAll
	}

	if raw := q.Get("resultOffset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return p, &ParamError{Name: "resultOffset"}
		}
		p.ResultOffset = offset
	}

	if raw := q.Get("resultRecordCount"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil || count < 1 || count > maxRecordCount {
			return p, &ParamError{Name: "resultRecordCount"}
		}
		p.ResultRecordCount = count
	}

	if raw := q.Get("returnDistinctValues"); raw != "" {
		distinct, err := strconv.ParseBool(raw)
		if err != nil {
			return p, &ParamError{Name: "returnDistinctValues"}
		}
		p.ReturnDistinct = distinct
	}

	return p, nil
}

// BuildQuery translates client parameters into the upstream request.
// The where-lock is conjoined unconditionally, requested fields are cut
// down to the allowlist and geometry is excluded at the request layer as
// well as in the sanitizer.
func BuildQuery(decision models.AuthorizationDecision, p QueryParams) url.Values {
	params := url.Values{}
	params.Set("where", lockedWhere(p.Where, decision.WhereClause))
	params.Set("outFields", sanitizeOutFields(p.OutFields, decision.FieldAllowlist))
	params.Set("returnGeometry", "false")
	params.Set("resultOffset", strconv.Itoa(p.ResultOffset))
	params.Set("resultRecordCount", strconv.Itoa(p.ResultRecordCount))
	params.Set("returnDistinctValues", strconv.FormatBool(p.ReturnDistinct))

	if p.OrderByFields != "" {
		params.Set("orderByFields", p.OrderByFields)
	}

	return params
}

type IdentifyParams struct {
	Lat        float64
	Lon        float64
	MaxResults int
}

func ParseIdentifyParams(q url.Values) (IdentifyParams, error) {
	p := IdentifyParams{MaxResults: defaultIdentifyCount}

	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		return p, &ParamError{Name: "lat"}
	}
	p.Lat = lat

	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		return p, &ParamError{Name: "lon"}
	}
	p.Lon = lon

	if raw := q.Get("max_results"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil || count < 1 || count > maxIdentifyCount {
			return p, &ParamError{Name: "max_results"}
		}
		p.MaxResults = count
	}

	return p, nil
}

// BuildIdentify translates a point lookup into an upstream intersection
// query: attributes only, first few matches.
func BuildIdentify(decision models.AuthorizationDecision, p IdentifyParams) url.Values {
	params := url.Values{}
	params.Set("where", lockedWhere(whereAll, decision.WhereClause))
	params.Set("geometry", fmt.Sprintf("%v,%v", p.Lon, p.Lat))
	params.Set("geometryType", "esriGeometryPoint")
	params.Set("inSR", "4326")
	params.Set("spatialRel", "esriSpatialRelIntersects")
	params.Set("outFields", strings.Join(decision.FieldAllowlist, ","))
	params.Set("returnGeometry", "false")
	params.Set("resultRecordCount", strconv.Itoa(p.MaxResults))

	return params
}

func lockedWhere(where, lock string) string {
	if lock == "" {
		return where
	}
	return fmt.Sprintf("(%s) AND (%s)", where, lock)
}

// sanitizeOutFields intersects the requested fields with the allowlist.
// Fields outside the allowlist are dropped silently so error messages
// cannot be used to probe it; an empty intersection falls back to the
// whole allowlist.
func sanitizeOutFields(requested string, allowed []string) string {
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == "*" {
		return strings.Join(allowed, ",")
	}

	allowedSet := make(map[string]struct{}, len(allowed))
	for _, field := range allowed {
		allowedSet[field] = struct{}{}
	}

	var safe []string
	for _, field := range strings.Split(requested, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if _, ok := allowedSet[field]; ok {
			safe = append(safe, field)
		}
	}

	if len(safe) == 0 {
		return strings.Join(allowed, ",")
	}
	return strings.Join(safe, ",")
}
