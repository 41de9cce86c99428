package agent

import (
	"fmt"
	"sort"
	"strings"

	"datachat/database"
	"datachat/dbpool"
)

// ComposeInput carries everything the prompt is assembled from.
type ComposeInput struct {
	Question string
	Dialect  dbpool.Dialect
	Schema   []TableSchema
	Context  *Retrieval
	History  []database.Message // oldest first
	Prompts  []database.Prompt  // active reusable instruction fragments
	Budget   int                // token budget, 0 means the default
}

// Composer builds the provider-agnostic prompt. Sections are dropped in
// reverse priority (articles, then older history, then examples, then terms)
// until the token budget fits; schema, system rules and the question are
// never dropped.
type Composer struct {
	DefaultBudget int
}

// NewComposer creates a composer with the fallback token budget.
func NewComposer(defaultBudget int) *Composer {
	if defaultBudget <= 0 {
		defaultBudget = 8192
	}
	return &Composer{DefaultBudget: defaultBudget}
}

// outputContract 要求模型只输出一个 fenced JSON 对象；params 携带 :name 占位符
// 的绑定值，字面量必须走参数而不是拼进 SQL。
const outputContract = `Respond with exactly one fenced JSON object and nothing else:
` + "```json" + `
{"sql": "<the query>", "explanation": "<one or two sentences>", "chart_kind": "<table|bar|line|pie|scatter|area>", "params": {"<name>": "<value>"}, "complex": false}
` + "```" + `
Rules for the JSON:
- "sql" holds a single read-only statement. Literal values from the question go into "params" and the SQL references them as :name placeholders.
- "chart_kind" is your rendering suggestion for the result.
- Set "complex" to true only when the task genuinely needs SQL this tool must not run (DDL or mutations); put that SQL in "sql" anyway for the user to execute manually.`

// Compose renders the eight prompt sections in order, trimming droppable
// sections until the budget fits.
func (c *Composer) Compose(in ComposeInput) string {
	budget := in.Budget
	if budget <= 0 {
		budget = c.DefaultBudget
	}

	system := c.systemSection(in)
	schema := section("Schema", RenderSchema(in.Schema, in.Dialect))
	terms := c.termsSection(in.Context)
	examples := c.examplesSection(in.Context)
	articles := c.articlesSection(in.Context)
	history := c.historySection(in.History)
	question := section("Question", in.Question)
	contract := section("Output", outputContract)

	fixed := CountTokens(system) + CountTokens(schema) + CountTokens(question) + CountTokens(contract)

	// droppables, cheapest-to-lose first
	for budget > 0 && fixed+CountTokens(terms)+CountTokens(examples)+CountTokens(articles)+CountTokens(history) > budget {
		switch {
		case articles != "":
			articles = ""
		case len(in.History) > 1:
			in.History = in.History[1:]
			history = c.historySection(in.History)
		case history != "":
			history = ""
			in.History = nil
		case examples != "":
			examples = ""
		case terms != "":
			terms = ""
		default:
			budget = 0
		}
	}

	var b strings.Builder
	for _, s := range []string{system, schema, terms, examples, articles, history, question, contract} {
		if s == "" {
			continue
		}
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Composer) systemSection(in ComposeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a data analyst that answers questions by writing %s SQL.\n", in.Dialect.Name())
	b.WriteString("Safety rules:\n")
	b.WriteString("- Emit exactly one read-only statement: SELECT, or WITH ending in a SELECT.\n")
	b.WriteString("- Never emit INSERT, UPDATE, DELETE, DDL, or stacked statements.\n")
	fmt.Fprintf(&b, "- Quote identifiers that need it like %s.\n", in.Dialect.QuoteIdent("column name"))
	b.WriteString("- Use only the tables and columns in the schema below.")

	prompts := append([]database.Prompt(nil), in.Prompts...)
	sort.SliceStable(prompts, func(i, j int) bool { return prompts[i].Priority > prompts[j].Priority })
	for _, p := range prompts {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(p.Content))
	}
	return section("System", b.String())
}

func (c *Composer) termsSection(ctx *Retrieval) string {
	if ctx == nil || len(ctx.Terms) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range ctx.Terms {
		fmt.Fprintf(&b, "- %q means the column %s", t.Phrase, t.FieldName)
		if t.TableScope != "" {
			fmt.Fprintf(&b, " (table %s)", t.TableScope)
		}
		b.WriteString("\n")
	}
	return section("Business terms", strings.TrimRight(b.String(), "\n"))
}

func (c *Composer) examplesSection(ctx *Retrieval) string {
	if ctx == nil || len(ctx.Examples) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range ctx.Examples {
		fmt.Fprintf(&b, "Q: %s\nSQL: %s\n", e.Question, e.SQL)
	}
	return section("Known-good examples", strings.TrimRight(b.String(), "\n"))
}

func (c *Composer) articlesSection(ctx *Retrieval) string {
	if ctx == nil || len(ctx.Articles) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range ctx.Articles {
		fmt.Fprintf(&b, "%s: %s\n", a.Title, a.Body)
	}
	return section("Background", strings.TrimRight(b.String(), "\n"))
}

// historySection renders prior turns with the assistant's SQL but never raw
// result rows.
func (c *Composer) historySection(history []database.Message) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range history {
		switch m.Role {
		case "user":
			fmt.Fprintf(&b, "User: %s\n", m.Content)
		case "assistant":
			if m.SQL != "" {
				fmt.Fprintf(&b, "Assistant SQL: %s\n", m.SQL)
			} else if m.Content != "" {
				fmt.Fprintf(&b, "Assistant: %s\n", m.Content)
			}
		}
	}
	return section("Conversation so far", strings.TrimRight(b.String(), "\n"))
}

func section(title, body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	return "## " + title + "\n" + body
}
