package did

import (
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// Document is a DID document as described by the did-core data model,
// restricted to the fields this system actually produces and consumes.
type Document struct {
	Context            []string             `json:"@context,omitempty"`
	Id                 string               `json:"id" validate:"required"`
	AlsoKnownAs        []string             `json:"alsoKnownAs,omitempty"`
	VerificationMethod []VerificationMethod `json:"verificationMethod" validate:"required,min=1,dive"`
	Authentication     []string             `json:"authentication" validate:"required,min=1"`
	AssertionMethod    []string             `json:"assertionMethod,omitempty"`
	Service            []Service            `json:"service,omitempty"`
	Created            time.Time            `json:"created,omitempty"`
	Updated            time.Time            `json:"updated,omitempty"`
}

type VerificationMethod struct {
	Id                 string `json:"id" validate:"required"`
	Type               string `json:"type" validate:"required"`
	Controller         string `json:"controller" validate:"required"`
	PublicKeyMultibase string `json:"publicKeyMultibase,omitempty"`
}

type Service struct {
	Id              string    `json:"id"`
	Type            string    `json:"type"`
	ServiceEndpoint string    `json:"serviceEndpoint"`
	Timestamp       time.Time `json:"timestamp,omitempty"`
	DeviceId        string    `json:"deviceId,omitempty"`
}

// FindService returns the last service entry of the given type. Last wins
// because publishes append the newest endpoint for a service type.
func (d *Document) FindService(typ string) *Service {
	for i := len(d.Service) - 1; i >= 0; i-- {
		if d.Service[i].Type == typ {
			return &d.Service[i]
		}
	}
	return nil
}

// Parse checks the did:<method>:<msid> shape and returns the method and
// method-specific id.
func Parse(didstr string) (method string, msid string, err error) {
	if _, perr := syntax.ParseDID(didstr); perr != nil {
		return "", "", perr
	}

	pts := strings.SplitN(didstr, ":", 3)
	return pts[1], pts[2], nil
}
