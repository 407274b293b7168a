package did

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator"
)

// MaxDocumentBytes is a soft ceiling on serialized document size. Documents
// over it still validate; resolvers are expected to log a warning.
const MaxDocumentBytes = 10 * 1024

// Schemes that would let a hostile document smuggle executable content into
// anything that treats a service endpoint as a link.
var forbiddenEndpointSchemes = []string{"javascript:", "data:", "vbscript:"}

var validate = validator.New()

type ValidationError struct {
	error
	Field string
	Tag   string
}

func validationError(field, tag, format string, args ...any) ValidationError {
	return ValidationError{
		error: fmt.Errorf(format, args...),
		Field: field,
		Tag:   tag,
	}
}

// ValidateDocument performs the structural checks a document must pass before
// it can be cached or returned to a caller. No cryptographic verification
// happens here.
func ValidateDocument(doc *Document, expectedDid string) error {
	if doc == nil {
		return validationError("document", "required", "document is nil")
	}

	if err := validate.Struct(doc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return ValidationError{
				error: err,
				Field: first.Field(),
				Tag:   first.Tag(),
			}
		}
		return err
	}

	if doc.Id != expectedDid {
		return validationError("id", "did-mismatch", "document id %q does not match resolved did %q", doc.Id, expectedDid)
	}

	vms := map[string]bool{}
	for _, vm := range doc.VerificationMethod {
		vms[vm.Id] = true
	}

	for _, ref := range append(append([]string{}, doc.Authentication...), doc.AssertionMethod...) {
		if !refResolves(ref, doc.Id, vms) {
			return validationError("authentication", "dangling-ref", "reference %q has no matching verification method", ref)
		}
	}

	for _, svc := range doc.Service {
		lowered := strings.ToLower(strings.TrimSpace(svc.ServiceEndpoint))
		for _, scheme := range forbiddenEndpointSchemes {
			if strings.HasPrefix(lowered, scheme) {
				return validationError("serviceEndpoint", "executable-uri", "service %q endpoint uses forbidden scheme %s", svc.Id, scheme)
			}
		}
	}

	return nil
}

// refResolves accepts both absolute verification method ids and fragment-only
// references relative to the document id.
func refResolves(ref string, docId string, vms map[string]bool) bool {
	if vms[ref] {
		return true
	}
	if strings.HasPrefix(ref, "#") {
		return vms[docId+ref]
	}
	return false
}

// SerializedSize reports the document's JSON size so callers can warn on
// documents over MaxDocumentBytes.
func SerializedSize(doc *Document) int {
	b, err := json.Marshal(doc)
	if err != nil {
		return 0
	}
	return len(b)
}
