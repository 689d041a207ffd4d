package models

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/pkg/errors"
)

// ServiceDescriptor maps one public dataset alias to the private upstream
// endpoints backing it. AllowedFields is the hard ceiling on what any
// client may ever see for this alias; registration rejects an empty list
// so the allowlist policy is always explicit.
type ServiceDescriptor struct {
	Alias string `json:"alias"`
	// FeatureQueryEndpoint is the upstream feature-layer query URL,
	// must end with /query.
	FeatureQueryEndpoint string `json:"feature_layer_query_url"`
	// TileBaseEndpoint is the upstream vector-tile service root.
	TileBaseEndpoint string   `json:"vector_tile_base"`
	AllowedFields    []string `json:"allowed_out_fields"`
}

func (svc ServiceDescriptor) Validate() error {
	err := validation.ValidateStruct(&svc,
		validation.Field(&svc.Alias, validation.Required),
		validation.Field(&svc.FeatureQueryEndpoint, validation.Required),
		validation.Field(&svc.TileBaseEndpoint, validation.Required),
		validation.Field(&svc.AllowedFields, validation.Required),
	)
	if err != nil {
		return err
	}

	if !strings.HasSuffix(strings.TrimRight(svc.FeatureQueryEndpoint, "/"), "/query") {
		return errors.New("feature_layer_query_url must end with /query")
	}

	for _, field := range svc.AllowedFields {
		if strings.TrimSpace(field) == "" {
			return errors.New("allowed_out_fields contains an empty field name")
		}
	}

	return nil
}

// ClientDescriptor is one issued client key with its grants. WhereLocks
// maps alias to a predicate that is conjoined with every query this key
// issues against that alias.
type ClientDescriptor struct {
	Key            string            `json:"key"`
	DisplayName    string            `json:"name"`
	GrantedAliases []string          `json:"services"`
	Disabled       bool              `json:"disabled"`
	WhereLocks     map[string]string `json:"where_lock,omitempty"`
}

func (c ClientDescriptor) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Key, validation.Required),
		validation.Field(&c.DisplayName, validation.Required),
	)
	if err != nil {
		return err
	}

	// A lock on an ungranted alias is meaningless and hides a config
	// mistake, reject it eagerly.
	for alias := range c.WhereLocks {
		if !c.HasGrant(alias) {
			return errors.Errorf("where_lock set for ungranted alias %q", alias)
		}
	}

	return nil
}

func (c ClientDescriptor) HasGrant(alias string) bool {
	for _, granted := range c.GrantedAliases {
		if granted == alias {
			return true
		}
	}
	return false
}

func (c ClientDescriptor) WhereLock(alias string) string {
	if c.WhereLocks == nil {
		return ""
	}
	return c.WhereLocks[alias]
}

// AuthorizationDecision is computed fresh per request and never cached,
// registry state may change between calls.
type AuthorizationDecision struct {
	Allowed bool
	// Reason is for logs and counters only, clients always get the
	// same generic denial.
	Reason string

	FieldAllowlist []string
	WhereClause    string

	Service *ServiceDescriptor
}

func (d AuthorizationDecision) AllowsField(name string) bool {
	for _, field := range d.FieldAllowlist {
		if field == name {
			return true
		}
	}
	return false
}
