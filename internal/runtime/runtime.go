// Package runtime generates the R source snippets the supervisor injects
// into the child interpreter: the handshake bootstrap (C7) and the
// per-tool wrapper generator (part of C1's contract, emitted here because
// both snippets share the same templating machinery).
package runtime

import (
	"strings"
	"text/template"

	"github.com/nextlevelbuilder/securer/internal/ident"
	"github.com/nextlevelbuilder/securer/internal/secerr"
)

// knownTypes maps the closed set of declared parameter type tags to the R
// predicate used for the type-assertion block a wrapper prepends, per
// spec.md §3 and §4.4. Tags outside this set get no assertion.
var knownTypes = map[string]string{
	"numeric":    "is.numeric",
	"character":  "is.character",
	"logical":    "is.logical",
	"integer":    "is.integer",
	"list":       "is.list",
	"data.frame": "is.data.frame",
}

var funcMap = template.FuncMap{
	"join": strings.Join,
}

// bootstrapTemplate is the first snippet injected after the child spawns,
// per spec.md §4.2 (a)-(h). It is evaluated once, before any tool wrapper
// exists, so it has no dependency on the tool registry.
const bootstrapTemplate = `local({
  socket_path <- Sys.getenv("SECURER_SOCKET")
  token <- Sys.getenv("SECURER_TOKEN")
  Sys.unsetenv("SECURER_SOCKET")
  Sys.unsetenv("SECURER_TOKEN")

  conn <- socketConnection(
    port = 0L, host = socket_path, server = FALSE,
    blocking = TRUE, open = "r+b"
  )
  writeLines(token, conn)
  flush(conn)

  # vault is the sealed capability: conn is only reachable through this
  # closure, and only when called with the exact key the generated
  # call_tool body embeds.
  vault <- function(op) {
    if (!identical(op, "{{.VaultKey}}")) {
      stop("securer: channel access denied")
    }
    conn
  }

  assign("call_tool", function(name, ...) {
    args <- list(...)
    payload <- list(type = "tool_call", tool = name,
                     args = if (length(args) == 0L) NULL else args)
    ch <- vault("{{.VaultKey}}")
    writeLines(jsonlite::toJSON(payload, auto_unbox = TRUE, null = "null"), ch)
    flush(ch)
    line <- readLines(ch, n = 1L)
    reply <- jsonlite::fromJSON(line, simplifyVector = FALSE)
    if (!is.null(reply[["error"]])) {
      stop(reply[["error"]])
    }
    reply[["value"]]
  }, envir = globalenv())
  lockBinding("call_tool", globalenv())

  assign("unlockBinding", function(...) {
    stop("securer: unlockBinding is disabled in this session")
  }, envir = globalenv())
  lockBinding("unlockBinding", globalenv())

  assign("get", function(x, ...) {
    if (is.character(x) && x %in% c("conn", "vault", "socket_path", "token")) {
      stop("securer: access to internal channel state is disabled")
    }
    base::get(x, ...)
  }, envir = globalenv())
  lockBinding("get", globalenv())

  invisible(NULL)
})
`

// wrapperTemplate renders one callable definition per tool, each locked
// against rebinding after assignment, per spec.md §4.4.
const wrapperTemplate = `{{range .Tools}}{{$tool := .}}{{.Name}} <- function({{join .Params ", "}}) {
{{range .Assertions}}  if (!{{.Predicate}}({{.Param}})) stop("Type error: parameter '{{.Param}}' of tool '{{$tool.Name}}' must be {{.TypeTag}}")
{{end}}  call_tool("{{.Name}}"{{range .Params}}, {{.}} = {{.}}{{end}})
}
lockBinding("{{.Name}}", globalenv())
{{end}}`

// Param describes one declared formal parameter for wrapper generation.
type Param struct {
	Name    string
	TypeTag string // empty when undeclared/unknown
}

// ToolSpec is the subset of a tool registry entry the wrapper generator
// needs: its name and its ordered, possibly-empty parameter list. A nil
// Params and an empty slice are treated alike: GenerateWrapperSnippet
// renders a zero-parameter callable for both.
type ToolSpec struct {
	Name   string
	Params []Param
}

type assertion struct {
	Param     string
	Predicate string
	TypeTag   string
}

type wrapperTool struct {
	Name       string
	Params     []string
	Assertions []assertion
}

// VaultKey is the single opaque token the sealed capability closure
// accepts; it is not secret (it lives in source the child can read), it
// only distinguishes "the generated call_tool body" from arbitrary child
// code poking at the closure directly, per spec.md §9's design note.
const VaultKey = "securer-internal-call-tool"

// GenerateBootstrap renders the handshake + sealed-capability snippet
// evaluated in the child immediately after connect, per spec.md §4.2.
func GenerateBootstrap() (string, error) {
	tmpl, err := template.New("bootstrap").Parse(bootstrapTemplate)
	if err != nil {
		return "", secerr.Wrap(secerr.ExecutionFailed, "parse bootstrap template", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, struct{ VaultKey string }{VaultKey}); err != nil {
		return "", secerr.Wrap(secerr.ExecutionFailed, "render bootstrap template", err)
	}
	return sb.String(), nil
}

// GenerateWrapperSnippet renders one locked callable per tool, per
// spec.md §4.2/§4.4. Tool and parameter names are re-validated against
// the identifier grammar so a malformed registry entry cannot inject
// arbitrary R source through a name.
func GenerateWrapperSnippet(tools []ToolSpec) (string, error) {
	wts := make([]wrapperTool, 0, len(tools))
	for _, t := range tools {
		if !ident.Valid(t.Name) {
			return "", secerr.New(secerr.InvalidIdentifier, "tool name is not a valid identifier: "+t.Name)
		}
		wt := wrapperTool{Name: t.Name}
		for _, p := range t.Params {
			if !ident.Valid(p.Name) {
				return "", secerr.New(secerr.InvalidIdentifier, "parameter name is not a valid identifier: "+p.Name)
			}
			wt.Params = append(wt.Params, p.Name)
			if predicate, ok := knownTypes[p.TypeTag]; ok {
				wt.Assertions = append(wt.Assertions, assertion{Param: p.Name, Predicate: predicate, TypeTag: p.TypeTag})
			}
		}
		wts = append(wts, wt)
	}

	tmpl, err := template.New("wrapper").Funcs(funcMap).Parse(wrapperTemplate)
	if err != nil {
		return "", secerr.Wrap(secerr.ExecutionFailed, "parse wrapper template", err)
	}
	var sb strings.Builder
	data := struct{ Tools []wrapperTool }{Tools: wts}
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", secerr.Wrap(secerr.ExecutionFailed, "render wrapper template", err)
	}
	return sb.String(), nil
}
