package mcpserver

// EntryFormatContract describes the canonical memory entry format that
// LLM consumers should follow when appending memories.
const EntryFormatContract = `# Mnemon Entry Format Contract

Every memory appended to a canonical log file MUST follow this
structure. Author files are append-only Markdown; entries are separated
by a line containing exactly three dashes.

## Structure

` + "```" + `markdown
## 2025-01-20: Short title

Body text in standard Markdown. The body is what gets embedded and
retrieved, so write it as a self-contained statement.

---

## 2025-01-21: Next entry

More content.
` + "```" + `

## Rules

1. **The heading is required.** Format: ` + "`" + `## YYYY-MM-DD: title` + "`" + `. The date
   is the entry timestamp; the title is free text. Entries without a
   parseable heading are timestamped at ingest time.
2. **Entries are immutable.** Never edit or delete an existing block;
   corrections are new entries.
3. **The entry id is derived from the content.** Appending content that
   normalizes to an existing entry is a no-op, not a duplicate.
4. **Kind is inferred from the content.** Blocks mentioning promotion
   are classified as promotions, blocks mentioning reflection as
   reflections, everything else as events. Pass an explicit kind to
   append_memory to override; when inference would not recover it, the
   engine records it as a ` + "`" + `Kind:` + "`" + ` line so it survives reloads.
5. **Promotion provenance lines are machine-written.** ` + "`" + `Promoted-From:` + "`" + `,
   ` + "`" + `Promotion-Reason:` + "`" + `, and ` + "`" + `Promotion-Depth:` + "`" + ` lines are emitted by the
   promotion engine; do not write them by hand.
6. **Encoding** is UTF-8 with Unix line endings.

## Example

` + "```" + `markdown
## 2025-01-20: Decided on SQLite for the projection store

We keep vectors in a single SQLite file next to the log. Rebuilds are
cheap enough that schema migrations can just re-embed.

---

## 2025-01-22: Reflection on indexing latency

Reflection: batch embedding at load time beats per-entry calls by an
order of magnitude. Worth promoting if it holds next week.
` + "```" + `
`
