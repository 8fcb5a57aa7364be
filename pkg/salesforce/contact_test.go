package salesforce

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindContactByEmail(t *testing.T) {
	mock := &mockClient{
		queryFn: func(ctx context.Context, soql string, out any) error {
			assert.Contains(t, soql, "FROM Contact WHERE Email = 'jane@acme.io'")
			contacts := out.(*[]Contact)
			*contacts = []Contact{{ID: "003X", Email: "jane@acme.io", FirstName: "Jane"}}
			return nil
		},
	}

	contact, err := FindContactByEmail(context.Background(), mock, "jane@acme.io")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "003X", contact.ID)
}

func TestFindContactByEmail_NotFound(t *testing.T) {
	mock := &mockClient{}

	contact, err := FindContactByEmail(context.Background(), mock, "nobody@acme.io")
	require.NoError(t, err)
	assert.Nil(t, contact)
}

func TestFindContactByEmail_EscapesQuotes(t *testing.T) {
	mock := &mockClient{
		queryFn: func(ctx context.Context, soql string, out any) error {
			assert.Contains(t, soql, `\'`)
			assert.NotContains(t, soql, "= 'o'brien@x.io'")
			return nil
		},
	}

	_, err := FindContactByEmail(context.Background(), mock, "o'brien@x.io")
	require.NoError(t, err)
}

func TestCreateContact(t *testing.T) {
	mock := &mockClient{
		insertOneFn: func(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
			assert.Equal(t, "Contact", sObjectName)
			assert.Equal(t, "jane@acme.io", record["Email"])
			assert.Equal(t, "Doe", record["LastName"])
			return "003NEW", nil
		},
	}

	id, err := CreateContact(context.Background(), mock, map[string]any{
		"Email":    "jane@acme.io",
		"LastName": "Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, "003NEW", id)
}

func TestCreateContact_RequiresEmail(t *testing.T) {
	_, err := CreateContact(context.Background(), &mockClient{}, map[string]any{"LastName": "Doe"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Email is required")
}

func TestCreateContact_DefaultsLastName(t *testing.T) {
	mock := &mockClient{
		insertOneFn: func(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
			assert.Equal(t, "Unknown", record["LastName"])
			return "003NEW", nil
		},
	}

	_, err := CreateContact(context.Background(), mock, map[string]any{"Email": "x@y.io"})
	require.NoError(t, err)
}

func TestUpdateContact_Validation(t *testing.T) {
	err := UpdateContact(context.Background(), &mockClient{}, "", map[string]any{"Title": "VP"})
	require.Error(t, err)

	err = UpdateContact(context.Background(), &mockClient{}, "003X", nil)
	require.Error(t, err)
}

func TestBulkUpdateContacts_Batching(t *testing.T) {
	var batchSizes []int
	mock := &mockClient{
		updateCollectionFn: func(ctx context.Context, sObjectName string, records []CollectionRecord) ([]CollectionResult, error) {
			assert.Equal(t, "Contact", sObjectName)
			batchSizes = append(batchSizes, len(records))
			results := make([]CollectionResult, len(records))
			for i, r := range records {
				results[i] = CollectionResult{ID: r.ID, Success: true}
			}
			return results, nil
		},
	}

	updates := make([]ContactUpdate, 450)
	for i := range updates {
		updates[i] = ContactUpdate{ID: fmt.Sprintf("003%03d", i), Fields: map[string]any{"Lead_Score__c": i}}
	}

	results, err := BulkUpdateContacts(context.Background(), mock, updates)
	require.NoError(t, err)
	assert.Len(t, results, 450)
	assert.Equal(t, []int{200, 200, 50}, batchSizes)
}

func TestBulkUpdateContacts_Empty(t *testing.T) {
	results, err := BulkUpdateContacts(context.Background(), &mockClient{}, nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}
