package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

// Every frame in the catalog must survive an encode/decode round trip.
func TestFrameRoundTrip(t *testing.T) {
	frames := []*Frame{
		{Type: TypeMobileConnect, PairingCode: "482931"},
		{Type: TypeInvalidatePairing, SessionID: "u-1"},
		{Type: TypeAgentRegister, AgentToken: "A1", Version: "0.1.0"},
		{Type: TypeRegisterOK, PairingCode: "007001"},
		{Type: TypeSessionOK, SessionToken: "8f14e45f-ceea-4e70-a111-32d7d3f4f0a2"},
		{Type: TypeError, SessionID: "u-1", Message: "Agent disconnected"},
		{Type: TypeRepoList, SessionID: "u-1"},
		{Type: TypeChatMessage, SessionID: "u-1", Text: "hi", RepoFullName: "owner/repo", BranchName: "dev"},
		{Type: TypeTaskStart, SessionID: "u-1", Context: "fix tests", RepoFullName: "owner/repo", BaseBranch: "main"},
		{Type: TypePing, SessionID: "u-1"},
		{Type: TypePong, SessionID: "u-1"},
		{Type: TypeStreamChunk, SessionID: "u-1", Text: "a\n"},
		{Type: TypeStreamEnd, SessionID: "u-1"},
		{Type: TypeTaskDone, SessionID: "u-1", PRURL: "https://github.com/owner/repo/pull/7", PRTitle: "fix tests"},
		{Type: TypeRepoListResult, SessionID: "u-1", Repos: []Repository{
			{ID: 42, FullName: "owner/repo", Description: strptr("a repo"), DefaultBranch: "main", Language: strptr("Go"), Private: true, UpdatedAt: "2024-05-01T10:00:00Z"},
			{ID: 43, FullName: "owner/other", Description: nil, DefaultBranch: "master", Language: nil, Private: false, UpdatedAt: "2024-04-01T10:00:00Z"},
		}},
	}

	for _, f := range frames {
		data, err := f.Encode()
		require.NoError(t, err, "encode %s", f.Type)

		decoded, err := Decode(data)
		require.NoError(t, err, "decode %s", f.Type)
		assert.Equal(t, f, decoded, "round trip of %s", f.Type)
	}
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"sessionId":"u-1"}`))
	assert.Error(t, err)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)
}

// Pairing codes travel as strings so leading zeros survive.
func TestPairingCodeLeadingZerosPreserved(t *testing.T) {
	data, err := (&Frame{Type: TypeRegisterOK, PairingCode: "001234"}).Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "001234", decoded.PairingCode)
}

// Repository's nullable fields serialize as JSON null, not as absent keys.
func TestRepositoryNullableFields(t *testing.T) {
	repo := Repository{ID: 1, FullName: "o/r", DefaultBranch: "main", UpdatedAt: "2024-01-01T00:00:00Z"}

	data, err := json.Marshal(repo)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"description":null`)
	assert.Contains(t, string(data), `"language":null`)

	var back Repository
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, repo, back)
}
