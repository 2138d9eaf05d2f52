package toolcall

import (
	"encoding/json"
	"slices"
	"strings"
	"testing"
)

var (
	testTools       = []string{"read_file", "write_to_file", "create_plan", "replace_in_file"}
	testContentTags = []string{"thinking", "plan"}
)

func parseAll(fragments ...string) []Event {
	return slices.Collect(Parse(testTools, testContentTags, slices.Values(fragments)))
}

func sources(events []Event) string {
	var sb strings.Builder
	for _, ev := range events {
		sb.WriteString(ev.Source)
	}
	return sb.String()
}

func TestParse_ReadFileExample(t *testing.T) {
	t.Parallel()

	in := "<read_file>\n<path>src/main.ts</path>\n</read_file>"
	events := parseAll(in)

	want := []Event{
		{Kind: EventToolStart, Source: "<read_file>", Tool: "read_file"},
		{Kind: EventToolParameterStart, Source: "\n<path>", Tool: "read_file", Param: "path"},
		{Kind: EventToolDelta, Source: "src/main.ts", Text: "src/main.ts", Tool: "read_file", Param: "path"},
		{Kind: EventToolEnd, Source: "</path>\n</read_file>", Tool: "read_file"},
	}
	if !slices.Equal(events, want) {
		t.Fatalf("events=%+v\nwant %+v", events, want)
	}
	if got := sources(events); got != in {
		t.Fatalf("round trip=%q, want %q", got, in)
	}
}

func TestParse_RepeatedParameterBecomesList(t *testing.T) {
	t.Parallel()

	a := NewAssembler("m1", testTools, testContentTags)
	a.Write("<create_plan><read>A</read><read>B</read></create_plan>")
	a.Finish()

	tc, _ := a.Message.ToolCall()
	if tc == nil {
		t.Fatalf("missing tool call")
	}
	n := 0
	for _, c := range a.Message.Chunks {
		if c.Type == ChunkToolCall {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("tool chunks=%d, want 1", n)
	}
	v, ok := tc.Param("read")
	if !ok || !v.List {
		t.Fatalf("read=%+v, want list", v)
	}
	if !slices.Equal(v.Strings(), []string{"A", "B"}) {
		t.Fatalf("read=%v", v.Strings())
	}
	if tc.Status != ToolCallWaitingValidate {
		t.Fatalf("status=%q", tc.Status)
	}
}

func TestParse_UnknownRootTagIsText(t *testing.T) {
	t.Parallel()

	events := parseAll("see <div>x</div> and <path>y</path>")
	for _, ev := range events {
		if ev.Kind != EventText {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
	if got := sources(events); got != "see <div>x</div> and <path>y</path>" {
		t.Fatalf("round trip=%q", got)
	}
}

func TestParse_UnbalancedTagsInsideParameterAreLiteral(t *testing.T) {
	t.Parallel()

	a := NewAssembler("m1", testTools, testContentTags)
	a.Write("<write_to_file><path>index.html</path><content><div><p>hi</div></br></content></write_to_file>")
	a.Finish()

	tc, _ := a.Message.ToolCall()
	content, _ := tc.Param("content")
	if content.Scalar() != "<div><p>hi</div></br>" {
		t.Fatalf("content=%q", content.Scalar())
	}
	path, _ := tc.Param("path")
	if path.Scalar() != "index.html" {
		t.Fatalf("path=%q", path.Scalar())
	}
}

func TestParse_ContentRegion(t *testing.T) {
	t.Parallel()

	events := parseAll("a<thinking>deep <read_file> thought</thinking>b")
	kinds := make([]EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	want := []EventKind{EventText, EventContentStart, EventContentDelta, EventContentDelta, EventContentDelta, EventContentEnd, EventText}
	if !slices.Equal(kinds, want) {
		t.Fatalf("kinds=%v, want %v", kinds, want)
	}
}

func TestParse_NestingClassTracksStack(t *testing.T) {
	t.Parallel()

	p := NewParser(testTools, testContentTags)
	if _, ok := p.Nesting().(Root); !ok {
		t.Fatalf("nesting=%T, want Root", p.Nesting())
	}
	p.Write("<read_file>")
	if n, ok := p.Nesting().(InsideTool); !ok || n.Tool != "read_file" {
		t.Fatalf("nesting=%#v", p.Nesting())
	}
	p.Write("<path>")
	if n, ok := p.Nesting().(InsideToolParameter); !ok || n.Param != "path" {
		t.Fatalf("nesting=%#v", p.Nesting())
	}
	p.Write("</path></read_file><plan>")
	if n, ok := p.Nesting().(InsideContent); !ok || n.Tag != "plan" {
		t.Fatalf("nesting=%#v", p.Nesting())
	}
}

func TestParse_UnterminatedToolClosesIncomplete(t *testing.T) {
	t.Parallel()

	in := "<read_file><path>a.go"
	events := parseAll(in)
	last := events[len(events)-1]
	if last.Kind != EventToolEnd || !last.Incomplete {
		t.Fatalf("last=%+v", last)
	}
	if got := sources(events); got != in {
		t.Fatalf("round trip=%q", got)
	}

	a := NewAssembler("m1", testTools, testContentTags)
	a.Write(in)
	a.Finish()
	if tc, _ := a.Message.ToolCall(); tc == nil || tc.Status != ToolCallGenerating {
		t.Fatalf("tool call=%+v, want generating", tc)
	}
}

func TestParse_RoundTripAnyFragmentation(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"plain text only",
		"<thinking>x</thinking>\n<replace_in_file>\n<path>a</path>\n<diff>\n<<<<<<< SEARCH\nfoo\n=======\nbar\n>>>>>>> REPLACE\n</diff>\n</replace_in_file>",
		"</read_file> stray <read_file> <path>p</x></path>",
		"<plan>1. do</plan><create_plan><read>a</read> junk <read>b</read></create_plan>trailing",
	}
	for _, in := range inputs {
		for size := 1; size <= 5; size++ {
			var fragments []string
			for i := 0; i < len(in); i += size {
				fragments = append(fragments, in[i:min(i+size, len(in))])
			}
			if got := sources(parseAll(fragments...)); got != in {
				t.Fatalf("size=%d round trip=%q, want %q", size, got, in)
			}
		}
	}
}

func TestAssembler_DiscardsOutputAfterToolCall(t *testing.T) {
	t.Parallel()

	a := NewAssembler("m1", testTools, testContentTags)
	a.Write("ok <read_file><path>a</path></read_file> more <read_file>")
	if !a.Done() {
		t.Fatalf("expected done")
	}
	a.Write("ignored")
	if !a.Message.Truncated {
		t.Fatalf("expected truncated")
	}
	if got := a.Message.Source(); got != "ok <read_file><path>a</path></read_file>" {
		t.Fatalf("source=%q", got)
	}
}

func TestAssistantMessage_JSONRoundTripIsStable(t *testing.T) {
	t.Parallel()

	a := NewAssembler("m1", testTools, testContentTags)
	a.Write("<thinking>t</thinking>hi <create_plan><read>A</read><read>B</read><goal>g</goal></create_plan>")
	a.Finish()
	a.Message.AppendReasoning("r")

	b1, err := json.Marshal(a.Message)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back AssistantMessage
	if err := json.Unmarshal(b1, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b2, err := json.Marshal(&back)
	if err != nil {
		t.Fatalf("marshal back: %v", err)
	}
	if string(b1) != string(b2) {
		t.Fatalf("not stable:\n%s\n%s", b1, b2)
	}
	if back.Source() != a.Message.Source() {
		t.Fatalf("source mismatch")
	}
}
