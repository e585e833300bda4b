package database

// Table describes a logical document table and which document attributes feed its indexes.
// Empty field names leave the corresponding index column blank.
type Table struct {
	Name           string
	LookupField    string
	PartitionField string
	SubField       string
	SortField      string
	TTLField       string
}

// Tables is the set of logical tables the service uses.
type Tables struct {
	Contacts     Table
	Messages     Table
	MediaFiles   Table
	RateBuckets  Table
	DLQ          Table
	Scheduled    Table
	SystemConfig Table
	Dedup        Table
}

// DefaultTables returns the table layout with default names.
func DefaultTables() Tables {
	return Tables{
		Contacts: Table{Name: "contacts", LookupField: "phone", SortField: "createdAt"},
		Messages: Table{
			Name:           "messages",
			LookupField:    "whatsappMessageId",
			PartitionField: "direction",
			SubField:       "contactId",
			SortField:      "timestamp",
			TTLField:       "expiresAt",
		},
		MediaFiles:   Table{Name: "media_files", LookupField: "messageId", PartitionField: "contactId", SortField: "uploadedAt", TTLField: "expiresAt"},
		RateBuckets:  Table{Name: "rate_buckets", PartitionField: "key", SortField: "windowStart", TTLField: "expiresAt"},
		DLQ:          Table{Name: "dlq", LookupField: "originalMessageId", PartitionField: "queueName", SortField: "lastAttemptAt", TTLField: "expiresAt"},
		Scheduled:    Table{Name: "scheduled_messages", LookupField: "contactId", PartitionField: "status", SortField: "scheduledAt"},
		SystemConfig: Table{Name: "system_config"},
		Dedup:        Table{Name: "dedup", TTLField: "expiresAt"},
	}
}

// WithNames applies per-deployment table name overrides keyed by default name.
func (t Tables) WithNames(overrides map[string]string) Tables {
	rename := func(tbl *Table) {
		if name, ok := overrides[tbl.Name]; ok && name != "" {
			tbl.Name = name
		}
	}
	rename(&t.Contacts)
	rename(&t.Messages)
	rename(&t.MediaFiles)
	rename(&t.RateBuckets)
	rename(&t.DLQ)
	rename(&t.Scheduled)
	rename(&t.SystemConfig)
	rename(&t.Dedup)
	return t
}

// All lists every table.
func (t Tables) All() []Table {
	return []Table{t.Contacts, t.Messages, t.MediaFiles, t.RateBuckets, t.DLQ, t.Scheduled, t.SystemConfig, t.Dedup}
}
