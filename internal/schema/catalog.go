// Package schema hosts the declarative schema catalog and the validator
// built on top of it. The catalog is deliberately decoupled from the
// validation library: callers describe shapes with Field/Object values and
// the validator package turns those into compiled JSON Schema documents.
package schema

// Kind is a primitive structural type a Field can hold.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// Field describes one property of an object schema. Nullable is the only
// permitted way to encode absence — optional/undefined properties are
// forbidden, so every declared Field is implicitly required.
type Field struct {
	Name       string
	Kind       Kind
	Nullable   bool
	Enum       []string // closed enumeration values, string kind only
	Items      *Field   // element schema, array kind only
	Properties []Field  // nested object fields, object kind only
}

// Object is a top-level structural schema: a closed (additionalProperties:
// false) record of Fields.
type Object struct {
	Key    string
	Fields []Field
}

// Catalog maps schema_key to its declarative Object definition.
type Catalog map[string]Object

// str is a small constructor helper for the common non-nullable string case.
func str(name string) Field { return Field{Name: name, Kind: KindString} }

func nstr(name string) Field { return Field{Name: name, Kind: KindString, Nullable: true} }

func enum(name string, values ...string) Field {
	return Field{Name: name, Kind: KindString, Enum: values}
}

func nenum(name string, values ...string) Field {
	return Field{Name: name, Kind: KindString, Nullable: true, Enum: values}
}

func listOfStrings(name string, nullable bool) Field {
	return Field{Name: name, Kind: KindArray, Nullable: nullable, Items: &Field{Kind: KindString}}
}

func boolean(name string) Field { return Field{Name: name, Kind: KindBoolean} }

// priorityValues and friends match the closed enumerations of spec.md §3.
var priorityValues = []string{"critical", "high", "medium", "low"}
var severityValues = []string{"none", "minor", "major", "critical"}
var tierValues = []string{"trivial", "small", "medium", "large"}
var statusValues = []string{"partial", "complete", "blocked"}

// DefaultCatalog returns the schema catalog for every schema_key named in
// spec.md §3.
func DefaultCatalog() Catalog {
	c := Catalog{}

	c["discover"] = Object{Key: "discover", Fields: []Field{
		str("id"),
		str("title"),
		str("description"),
		str("category"),
		enum("priority", priorityValues...),
		enum("complexityTier", tierValues...),
		listOfStrings("acceptanceCriteria", true),
		listOfStrings("relevantFiles", true),
		listOfStrings("referenceFiles", true),
	}}

	c["research"] = Object{Key: "research", Fields: []Field{
		str("ticketId"),
		str("summary"),
		listOfStrings("findings", true),
		listOfStrings("openQuestions", true),
	}}

	c["plan"] = Object{Key: "plan", Fields: []Field{
		str("ticketId"),
		str("approach"),
		listOfStrings("steps", true),
		listOfStrings("filesToChange", true),
		listOfStrings("risks", true),
	}}

	c["implement"] = Object{Key: "implement", Fields: []Field{
		str("ticketId"),
		str("summary"),
		listOfStrings("filesChanged", true),
		nstr("commitMessage"),
	}}

	c["test_results"] = Object{Key: "test_results", Fields: []Field{
		str("ticketId"),
		enum("status", statusValues...),
		{Name: "passed", Kind: KindInteger},
		{Name: "failed", Kind: KindInteger},
		nstr("output"),
	}}

	c["build_verify"] = Object{Key: "build_verify", Fields: []Field{
		str("ticketId"),
		boolean("passed"),
		nstr("output"),
	}}

	c["spec_review"] = Object{Key: "spec_review", Fields: []Field{
		str("ticketId"),
		enum("severity", severityValues...),
		listOfStrings("findings", true),
		boolean("approved"),
	}}

	c["code_review"] = Object{Key: "code_review", Fields: []Field{
		str("ticketId"),
		enum("severity", severityValues...),
		listOfStrings("findings", true),
		boolean("approved"),
	}}

	c["review_fix"] = Object{Key: "review_fix", Fields: []Field{
		str("ticketId"),
		listOfStrings("addressed", true),
		nstr("summary"),
	}}

	c["report"] = Object{Key: "report", Fields: []Field{
		str("ticketId"),
		str("summary"),
		listOfStrings("filesChanged", true),
	}}

	c["land"] = Object{Key: "land", Fields: []Field{
		str("ticketId"),
		enum("landed", "yes", "no"),
		enum("evicted", "yes", "no"),
		nenum("reason", "rebase_conflict", "review_failed", "ci_failed", "push_failed"),
		nstr("commitLog"),
		nstr("summaryDiff"),
		nstr("mainlineLog"),
	}}

	c["merge_queue_result"] = Object{Key: "merge_queue_result", Fields: []Field{
		str("ticketId"),
		enum("landed", "yes", "no"),
		enum("evicted", "yes", "no"),
		nenum("reason", "rebase_conflict", "review_failed", "ci_failed", "push_failed"),
		{Name: "invalidations", Kind: KindInteger},
		nstr("commitLog"),
		nstr("summaryDiff"),
		nstr("mainlineLog"),
	}}

	c["ticket_schedule"] = Object{Key: "ticket_schedule", Fields: []Field{
		{Name: "jobs", Kind: KindArray, Items: &Field{Kind: KindObject, Properties: []Field{
			// Per-ticket-stage jobs use the "ticket:<stage>" convention
			// bridge.jobIDFor expects, not a bare "ticket-stage" marker.
			enum("jobType",
				"discovery", "progress-update", "codebase-review", "integration-test",
				"ticket:research", "ticket:plan", "ticket:implement", "ticket:test",
				"ticket:build-verify", "ticket:spec-review", "ticket:code-review",
				"ticket:review-fix", "ticket:report",
			),
			nstr("agentId"),
			nstr("ticketId"),
			nstr("focusId"),
			nstr("reason"),
		}}},
		{Name: "rateLimitedAgents", Kind: KindArray, Items: &Field{Kind: KindObject, Properties: []Field{
			str("agentId"),
			{Name: "resumeAtMs", Kind: KindInteger},
		}}},
	}}

	c["progress"] = Object{Key: "progress", Fields: []Field{
		str("summary"),
		{Name: "ticketsLanded", Kind: KindInteger},
		{Name: "ticketsInFlight", Kind: KindInteger},
	}}

	c["interpret_config"] = Object{Key: "interpret_config", Fields: []Field{
		str("projectName"),
		str("summary"),
	}}

	c["monitor"] = Object{Key: "monitor", Fields: []Field{
		str("summary"),
		listOfStrings("alerts", true),
	}}

	c["category_review"] = Object{Key: "category_review", Fields: []Field{
		str("category"),
		enum("severity", severityValues...),
		listOfStrings("findings", true),
	}}

	c["integration_test"] = Object{Key: "integration_test", Fields: []Field{
		enum("status", statusValues...),
		nstr("output"),
	}}

	c["merge_pass"] = Object{Key: "merge_pass", Fields: []Field{
		{Name: "landedCount", Kind: KindInteger},
		{Name: "evictedCount", Kind: KindInteger},
		{Name: "invalidatedCount", Kind: KindInteger},
	}}

	return c
}
