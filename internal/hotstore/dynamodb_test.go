package hotstore

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationKey(t *testing.T) {
	project := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	channel := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	key := ConversationKey(project, "whatsapp:+1", channel)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111#whatsapp:+1#22222222-2222-2222-2222-222222222222", key)
}

func TestNormalizeTimestamp_ValidRFC3339(t *testing.T) {
	got := normalizeTimestamp("2024-01-01T12:00:00Z")
	assert.Equal(t, "2024-01-01T12:00:00", got)
}

func TestNormalizeTimestamp_StripsResidualOnParseFailure(t *testing.T) {
	got := normalizeTimestamp("garbage+00:00")
	assert.Equal(t, "garbage", got)
}

func TestItemFromAttributeMap_RoundTrips(t *testing.T) {
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	m := map[string]types.AttributeValue{
		attrPK:               &types.AttributeValueMemberS{Value: "p#c#ch"},
		attrSK:               &types.AttributeValueMemberS{Value: "2024-01-01T12:00:00#m1"},
		attrText:             &types.AttributeValueMemberS{Value: "hi"},
		attrSource:           &types.AttributeValueMemberS{Value: "incoming"},
		attrCreatedAt:        &types.AttributeValueMemberS{Value: "2024-01-01T12:00:00"},
		attrResolutionStatus: &types.AttributeValueMemberN{Value: "2"},
		attrTTL:              &types.AttributeValueMemberN{Value: "9999999999"},
	}

	item, err := itemFromAttributeMap(m)
	require.NoError(t, err)
	assert.Equal(t, "p#c#ch", item.PartitionKey)
	assert.Equal(t, "hi", item.Text)
	assert.Equal(t, 2, item.ResolutionStatus)
	assert.False(t, item.ExpiresAt.IsZero())
	_ = expires
}

func TestEncodeDecodeCursor_RoundTrips(t *testing.T) {
	key := map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: "p#c#ch"},
		attrSK: &types.AttributeValueMemberS{Value: "2024-01-01T12:00:00#m1"},
	}
	cursor, err := encodeCursor(key)
	require.NoError(t, err)
	require.NotEmpty(t, cursor)

	decoded, err := decodeCursor(cursor)
	require.NoError(t, err)
	s, ok := decoded[attrPK].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "p#c#ch", s.Value)
}

func TestDecodeCursor_InvalidBase64(t *testing.T) {
	_, err := decodeCursor("not-base64!!!")
	require.Error(t, err)
}

func TestItemsFromAttributeMaps_SortsNewestFirst(t *testing.T) {
	older := map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: "p"},
		attrSK: &types.AttributeValueMemberS{Value: "2024-01-01T12:00:00#m1"},
	}
	newer := map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: "p"},
		attrSK: &types.AttributeValueMemberS{Value: "2024-01-02T12:00:00#m2"},
	}
	items, err := itemsFromAttributeMaps([]map[string]types.AttributeValue{older, newer})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2024-01-02T12:00:00#m2", items[0].SortKey)
}
