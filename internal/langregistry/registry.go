// Package langregistry is the static table of supported languages (C1): its
// id, display name, source suffix, run recipe, and default packages.
package langregistry

import "strings"

// Descriptor is an immutable record describing one supported language.
type Descriptor struct {
	ID              string
	DisplayName     string
	ToolchainVer    string
	Suffix          string
	Recipe          Recipe
	DefaultPackages []string
}

// Recipe is the run recipe template over {file}. When Compile is non-empty
// the language is compiled into an artifact before Run is invoked.
type Recipe struct {
	Compile []string // argv template, {file} substituted; empty if interpreted
	Run     []string // argv template, {file} substituted
}

var registry = map[string]Descriptor{}

// order preserves the fixed build-time ordering for all().
var order []string

// aliases resolves informal spellings to canonical ids before lookup. This
// is caller ergonomics layered in front of C1's case-sensitive canonical
// match; it does not change canonical-id behavior.
var aliases = map[string]string{
	"js":     "javascript",
	"ts":     "typescript",
	"py":     "python",
	"rb":     "ruby",
	"cs":     "csharp",
	"c++":    "cpp",
	"objc":   "objc",
	"golang": "go",
}

func register(d Descriptor) {
	registry[d.ID] = d
	order = append(order, d.ID)
}

func init() {
	register(Descriptor{ID: "python", DisplayName: "Python", ToolchainVer: "3", Suffix: ".py",
		Recipe:          Recipe{Run: []string{"python3", "-u", "{file}"}},
		DefaultPackages: []string{"requests", "numpy"}})
	register(Descriptor{ID: "javascript", DisplayName: "JavaScript", ToolchainVer: "node", Suffix: ".js",
		Recipe:          Recipe{Run: []string{"node", "{file}"}},
		DefaultPackages: []string{"axios"}})
	register(Descriptor{ID: "typescript", DisplayName: "TypeScript", ToolchainVer: "node", Suffix: ".ts",
		Recipe: Recipe{Run: []string{"npx", "ts-node", "{file}"}}})
	register(Descriptor{ID: "java", DisplayName: "Java", ToolchainVer: "jdk", Suffix: ".java",
		Recipe: Recipe{Compile: []string{"javac", "{file}"}, Run: []string{"java", "-cp", "{dir}", "{class}"}}})
	register(Descriptor{ID: "c", DisplayName: "C", ToolchainVer: "gcc", Suffix: ".c",
		Recipe: Recipe{Compile: []string{"gcc", "-O2", "-o", "{out}", "{file}"}, Run: []string{"{out}"}}})
	register(Descriptor{ID: "cpp", DisplayName: "C++", ToolchainVer: "g++", Suffix: ".cpp",
		Recipe: Recipe{Compile: []string{"g++", "-O2", "-std=c++17", "-o", "{out}", "{file}"}, Run: []string{"{out}"}}})
	register(Descriptor{ID: "csharp", DisplayName: "C#", ToolchainVer: "dotnet", Suffix: ".cs",
		Recipe: Recipe{Compile: []string{"csc", "-out:{out}", "{file}"}, Run: []string{"mono", "{out}"}}})
	register(Descriptor{ID: "rust", DisplayName: "Rust", ToolchainVer: "rustc", Suffix: ".rs",
		Recipe: Recipe{Compile: []string{"rustc", "-O", "-o", "{out}", "{file}"}, Run: []string{"{out}"}}})
	register(Descriptor{ID: "go", DisplayName: "Go", ToolchainVer: "go", Suffix: ".go",
		Recipe: Recipe{Run: []string{"go", "run", "{file}"}}})
	register(Descriptor{ID: "php", DisplayName: "PHP", ToolchainVer: "php", Suffix: ".php",
		Recipe: Recipe{Run: []string{"php", "{file}"}}})
	register(Descriptor{ID: "perl", DisplayName: "Perl", ToolchainVer: "perl", Suffix: ".pl",
		Recipe: Recipe{Run: []string{"perl", "{file}"}}})
	register(Descriptor{ID: "ruby", DisplayName: "Ruby", ToolchainVer: "ruby", Suffix: ".rb",
		Recipe: Recipe{Run: []string{"ruby", "{file}"}}})
	register(Descriptor{ID: "lua", DisplayName: "Lua", ToolchainVer: "lua", Suffix: ".lua",
		Recipe: Recipe{Run: []string{"lua", "{file}"}}})
	register(Descriptor{ID: "swift", DisplayName: "Swift", ToolchainVer: "swiftc", Suffix: ".swift",
		Recipe: Recipe{Compile: []string{"swiftc", "-o", "{out}", "{file}"}, Run: []string{"{out}"}}})
	register(Descriptor{ID: "objc", DisplayName: "Objective-C", ToolchainVer: "clang", Suffix: ".m",
		Recipe: Recipe{Compile: []string{"clang", "-framework", "Foundation", "{file}", "-o", "{out}"}, Run: []string{"{out}"}}})
}

// Lookup resolves id (matched case-sensitively against canonical ids, with
// a case-insensitive alias pass first) to its descriptor.
func Lookup(id string) (Descriptor, bool) {
	if canonical, ok := aliases[strings.ToLower(id)]; ok {
		id = canonical
	}
	d, ok := registry[id]
	return d, ok
}

// All returns the fixed, ordered sequence of every registered descriptor.
func All() []Descriptor {
	out := make([]Descriptor, 0, len(order))
	for _, id := range order {
		out = append(out, registry[id])
	}
	return out
}

// Compiled reports whether the language requires a compile step.
func (d Descriptor) Compiled() bool {
	return len(d.Recipe.Compile) > 0
}
