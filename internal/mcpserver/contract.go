package mcpserver

// MapFormatContract describes the canonical Markdown map format that
// LLM consumers should follow when creating or updating mind maps.
const MapFormatContract = `# Mindloom Map Format Contract

Every Markdown map stored in Mindloom MUST follow this structure.

## Structure

` + "```" + `markdown
# Root topic

Free text directly below a heading or list item becomes that node's note.

## Sub topic

- first branch
  - nested branch
    annotation attached to the nested branch
- [ ] open task branch
- [x] done task branch

1. ordered branch
2. another ordered branch
` + "```" + `

## Rules

1. **Structure comes from headings and list items only.** Every ` + "`" + `#` + "`" + ` heading
   and every ` + "`" + `-` + "`" + ` / ` + "`" + `1.` + "`" + ` list line becomes one node in the map.
2. **Headings nest by level** (` + "`" + `#` + "`" + ` through ` + "`" + `######` + "`" + `); deeper headings become
   children of the nearest shallower heading above them.
3. **List items nest by indentation** — two spaces (or one tab) per level.
   A top-level list item attaches to the heading above it.
4. **Checkboxes** use ` + "`" + `- [ ] ` + "`" + ` / ` + "`" + `- [x] ` + "`" + ` and map to task nodes.
5. **Free text** under a structural line is stored as the node's note; a file
   with no headings or list items at all is rejected.
6. **File paths** end with ` + "`" + `.md` + "`" + ` and use forward slashes. File and directory
   names MUST be in English (Latin characters); node text may use any language.
7. **Encoding** is UTF-8.

## Assets & Images

- Upload assets via the ` + "`" + `upload_asset` + "`" + ` tool. It returns a ` + "`" + `markdownImage` + "`" + ` field ready to paste into a node note.
- Assets are stored in the shared ` + "`" + `assets/` + "`" + ` directory (flat, no sub-folders).
- Reference in notes using the absolute path: ` + "`" + `![description](/assets/filename.png)` + "`" + `
- Supported formats: png, jpg, jpeg, gif, webp, svg. Maps embed images only.
- Do **not** use relative paths like ` + "`" + `./assets/...` + "`" + ` — always use ` + "`" + `/assets/filename` + "`" + `.

## Example

` + "```" + `markdown
# Product launch

## Marketing

- [ ] draft announcement post
- [x] book launch venue
  confirmed for March 12

## Engineering

1. freeze feature branch
2. run release checklist

![Launch timeline](/assets/launch-timeline.png)
` + "```" + `
`
