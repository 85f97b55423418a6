package postgresadapter

import (
	"reflect"
	"strings"
	"testing"
)

// CreateOutboundMessage targets ON CONFLICT (tenant_id, dedupe_key); Postgres
// rejects the insert outright unless a unique index covers exactly those
// columns, so the model tags must keep declaring it.
func TestOutboundMessageDedupeIndexCoversConflictColumns(t *testing.T) {
	indexed := columnsInUniqueIndex(t, reflect.TypeOf(outboundMessageModel{}), "outbound_messages_tenant_dedupe")
	want := []string{"tenant_id", "dedupe_key"}
	if !reflect.DeepEqual(indexed, want) {
		t.Fatalf("outbound_messages_tenant_dedupe must cover %v, got %v", want, indexed)
	}
}

func TestInstanceUniquenessIndexCoversEnrollmentIdentity(t *testing.T) {
	indexed := columnsInUniqueIndex(t, reflect.TypeOf(instanceModel{}), "instances_tenant_campaign_contact")
	want := []string{"tenant_id", "campaign_id", "contact_id"}
	if !reflect.DeepEqual(indexed, want) {
		t.Fatalf("instances_tenant_campaign_contact must cover %v, got %v", want, indexed)
	}
}

func columnsInUniqueIndex(t *testing.T, model reflect.Type, indexName string) []string {
	t.Helper()
	var columns []string
	for i := 0; i < model.NumField(); i++ {
		tag := model.Field(i).Tag.Get("gorm")
		if !strings.Contains(tag, "uniqueIndex:"+indexName) {
			continue
		}
		for _, part := range strings.Split(tag, ";") {
			if name, ok := strings.CutPrefix(part, "column:"); ok {
				columns = append(columns, name)
			}
		}
	}
	if len(columns) == 0 {
		t.Fatalf("no columns tagged with unique index %s on %s", indexName, model.Name())
	}
	return columns
}
