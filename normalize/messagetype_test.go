package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMessageTypes_Empty(t *testing.T) {
	detected, primary := DetectMessageTypes(Evidence{})
	assert.Empty(t, detected)
	assert.Empty(t, primary)
}

func TestDetectMessageTypes_InstructionsBelowThreshold(t *testing.T) {
	// One instructions mention scores 2.0, below the primary threshold.
	detected, primary := DetectMessageTypes(Evidence{Instructions: "map an ADT message to JSON"})
	require.Equal(t, []string{"adt"}, detected)
	assert.Empty(t, primary)
}

func TestDetectMessageTypes_AliasVotes(t *testing.T) {
	detected, _ := DetectMessageTypes(Evidence{Instructions: "extract lab results from the feed"})
	assert.Contains(t, detected, "oru")

	detected, _ = DetectMessageTypes(Evidence{Instructions: "build the immunization record"})
	assert.Contains(t, detected, "vxu")
}

func TestDetectMessageTypes_MSHFieldDominates(t *testing.T) {
	detected, primary := DetectMessageTypes(Evidence{
		Instructions: "transform the appointment payload",
		Attachments: []Attachment{{
			Filename: "sample.txt",
			Content:  "MSH|^~\\&|SND|FAC|RCV|FAC|202401011200||ORU^R01|MSG1|P|2.5\rOBX|1|TX|note",
		}},
	})
	require.NotEmpty(t, detected)
	assert.Equal(t, "oru", detected[0], "MSH-9 evidence outranks an alias vote")
	assert.Equal(t, "oru", primary)
}

func TestDetectMessageTypes_FilenameVotes(t *testing.T) {
	detected, _ := DetectMessageTypes(Evidence{
		Attachments: []Attachment{{Filename: "siu-appointments.hl7", Content: "plain body"}},
	})
	assert.Contains(t, detected, "siu")
}

func TestDetectMessageTypes_OrderedByScore(t *testing.T) {
	detected, primary := DetectMessageTypes(Evidence{
		Instructions:   "convert ADT admissions",
		Context:        "the source also emits ACK responses",
		ExpectedOutput: "one ADT record per admission",
	})
	require.GreaterOrEqual(t, len(detected), 2)
	assert.Equal(t, "adt", detected[0])
	assert.Equal(t, "adt", primary)
}

func TestContainsToken_WordBoundaries(t *testing.T) {
	assert.True(t, containsToken("parse the adt feed", "adt"))
	assert.True(t, containsToken("adt", "adt"))
	assert.True(t, containsToken("msh|...|adt^a01", "adt"))
	assert.False(t, containsToken("track the package", "ack"))
	assert.False(t, containsToken("roadtrip", "adt"))
	assert.False(t, containsToken("headturner", "adt"))
}

func TestNormalize_DetectionFlowsIntoInput(t *testing.T) {
	input, _, err := Normalize(Request{
		Instructions: "map the message",
		Attachments: []Attachment{{
			Filename: "admit.hl7",
			Content:  "MSH|^~\\&|SND|FAC|RCV|FAC|202401011200||ADT^A01|1|P|2.5\rPID|1||12345",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "adt", input.PrimaryMessageType)
	assert.Contains(t, input.DetectedMessageTypes, "adt")
}
