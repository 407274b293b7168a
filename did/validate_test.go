package did

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func valid(didstr string) *Document {
	vmId := didstr + "#key-1"
	return &Document{
		Id: didstr,
		VerificationMethod: []VerificationMethod{{
			Id:         vmId,
			Type:       "Multikey",
			Controller: didstr,
		}},
		Authentication: []string{vmId},
	}
}

func TestParse(t *testing.T) {
	method, msid, err := Parse("did:key:abc")
	require.NoError(t, err)
	assert.Equal(t, "key", method)
	assert.Equal(t, "abc", msid)

	method, msid, err = Parse("did:web:example.com")
	require.NoError(t, err)
	assert.Equal(t, "web", method)
	assert.Equal(t, "example.com", msid)

	for _, bad := range []string{"", "did:", "not-a-did", "did:key"} {
		_, _, err := Parse(bad)
		assert.Error(t, err, "expected %q to be rejected", bad)
	}
}

func TestValidateDocument(t *testing.T) {
	assert.NoError(t, ValidateDocument(valid("did:key:abc"), "did:key:abc"))
}

func TestValidateRequiredFields(t *testing.T) {
	doc := valid("did:key:abc")
	doc.Id = ""
	assert.Error(t, ValidateDocument(doc, "did:key:abc"))

	doc = valid("did:key:abc")
	doc.VerificationMethod = nil
	assert.Error(t, ValidateDocument(doc, "did:key:abc"))

	doc = valid("did:key:abc")
	doc.VerificationMethod[0].Controller = ""
	assert.Error(t, ValidateDocument(doc, "did:key:abc"))

	doc = valid("did:key:abc")
	doc.Authentication = nil
	assert.Error(t, ValidateDocument(doc, "did:key:abc"))
}

func TestValidateIdMismatch(t *testing.T) {
	err := ValidateDocument(valid("did:key:abc"), "did:key:xyz")
	require.Error(t, err)

	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "did-mismatch", verr.Tag)
}

func TestValidateDanglingReference(t *testing.T) {
	doc := valid("did:key:abc")
	doc.Authentication = []string{"did:key:abc#missing"}

	var verr ValidationError
	require.ErrorAs(t, ValidateDocument(doc, "did:key:abc"), &verr)
	assert.Equal(t, "dangling-ref", verr.Tag)
}

func TestValidateFragmentReference(t *testing.T) {
	doc := valid("did:key:abc")
	doc.Authentication = []string{"#key-1"}

	assert.NoError(t, ValidateDocument(doc, "did:key:abc"))
}

func TestValidateExecutableEndpointSchemes(t *testing.T) {
	for _, endpoint := range []string{
		"javascript:alert(1)",
		"data:text/html;base64,PHNjcmlwdD4=",
		"vbscript:msgbox",
		"  JAVASCRIPT:alert(1)",
	} {
		doc := valid("did:key:abc")
		doc.Service = []Service{{Id: "#svc", Type: "IdentitySync", ServiceEndpoint: endpoint}}

		var verr ValidationError
		require.ErrorAs(t, ValidateDocument(doc, "did:key:abc"), &verr, "endpoint %q", endpoint)
		assert.Equal(t, "executable-uri", verr.Tag)
	}

	doc := valid("did:key:abc")
	doc.Service = []Service{{Id: "#svc", Type: "IdentitySync", ServiceEndpoint: "ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"}}
	assert.NoError(t, ValidateDocument(doc, "did:key:abc"))
}

func TestFindServiceLastWins(t *testing.T) {
	doc := valid("did:key:abc")
	doc.Service = []Service{
		{Id: "#old", Type: "IdentitySync", ServiceEndpoint: "ipfs://old"},
		{Id: "#new", Type: "IdentitySync", ServiceEndpoint: "ipfs://new"},
	}

	svc := doc.FindService("IdentitySync")
	require.NotNil(t, svc)
	assert.Equal(t, "#new", svc.Id)

	assert.Nil(t, doc.FindService("SomethingElse"))
}

func TestSerializedSize(t *testing.T) {
	doc := valid("did:key:abc")
	assert.Greater(t, SerializedSize(doc), 0)
	assert.Less(t, SerializedSize(doc), MaxDocumentBytes)

	doc.AlsoKnownAs = []string{strings.Repeat("x", MaxDocumentBytes)}
	assert.Greater(t, SerializedSize(doc), MaxDocumentBytes)
}
