package reasoning

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rendis/copilot/pkg/schema"
)

// Field is a named signature input or output.
type Field struct {
	Name     string
	Desc     string
	Optional bool
}

// Demo is a worked example keyed by field name.
type Demo map[string]string

// Signature describes one reasoning task.
type Signature struct {
	Name         string
	Instructions string
	Inputs       []Field
	Outputs      []Field
	Demos        []Demo
}

var sectionRe = regexp.MustCompile(`\[\[ ## (\w+) ## \]\]`)

func marker(name string) string {
	return "[[ ## " + name + " ## ]]"
}

// Render builds the prompt for the given inputs. Missing inputs render empty.
func (s *Signature) Render(inputs map[string]string) Prompt {
	var sys strings.Builder
	sys.WriteString("Your input fields are:\n")
	writeFields(&sys, s.Inputs)
	sys.WriteString("Your output fields are:\n")
	writeFields(&sys, s.Outputs)
	sys.WriteString("All interactions will be structured in the following way, with the appropriate values filled in.\n\n")
	for _, f := range s.Inputs {
		fmt.Fprintf(&sys, "%s\n{%s}\n\n", marker(f.Name), f.Name)
	}
	for _, f := range s.Outputs {
		fmt.Fprintf(&sys, "%s\n{%s}\n\n", marker(f.Name), f.Name)
	}
	sys.WriteString(marker("completed"))
	sys.WriteString("\n\nIn adhering to this structure, your objective is:\n")
	sys.WriteString(strings.TrimSpace(s.Instructions))

	var user strings.Builder
	for i, d := range s.Demos {
		fmt.Fprintf(&user, "Example %d:\n", i+1)
		for _, f := range s.Inputs {
			if v, ok := d[f.Name]; ok {
				fmt.Fprintf(&user, "%s\n%s\n\n", marker(f.Name), v)
			}
		}
		for _, f := range s.Outputs {
			if v, ok := d[f.Name]; ok {
				fmt.Fprintf(&user, "%s\n%s\n\n", marker(f.Name), v)
			}
		}
	}
	for _, f := range s.Inputs {
		fmt.Fprintf(&user, "%s\n%s\n\n", marker(f.Name), inputs[f.Name])
	}
	user.WriteString("Respond with the corresponding output fields, starting with the field ")
	names := make([]string, 0, len(s.Outputs))
	for _, f := range s.Outputs {
		names = append(names, "`"+marker(f.Name)+"`")
	}
	user.WriteString(strings.Join(names, ", then "))
	user.WriteString(", and then ending with the marker for `" + marker("completed") + "`.")

	return Prompt{Task: s.Name, System: sys.String(), User: user.String()}
}

func writeFields(b *strings.Builder, fields []Field) {
	for i, f := range fields {
		fmt.Fprintf(b, "%d. `%s`", i+1, f.Name)
		if f.Desc != "" {
			b.WriteString(": " + f.Desc)
		}
		b.WriteString("\n")
	}
}

// Parse extracts the output sections of a reply. Unknown sections are ignored
// and the first occurrence of a field wins. A reply without any markers is
// accepted as the value of a signature's single required output.
func (s *Signature) Parse(reply string) (map[string]string, error) {
	out := make(map[string]string, len(s.Outputs))
	locs := sectionRe.FindAllStringSubmatchIndex(reply, -1)

	if len(locs) == 0 {
		if req := s.required(); len(req) == 1 && strings.TrimSpace(reply) != "" {
			out[req[0]] = strings.TrimSpace(reply)
			return out, nil
		}
	}

	known := make(map[string]bool, len(s.Outputs))
	for _, f := range s.Outputs {
		known[f.Name] = true
	}
	for i, loc := range locs {
		name := reply[loc[2]:loc[3]]
		end := len(reply)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if _, seen := out[name]; seen || !known[name] {
			continue
		}
		out[name] = strings.TrimSpace(reply[loc[1]:end])
	}

	var missing []string
	for _, name := range s.required() {
		if _, ok := out[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "%s: reply is missing %s", s.Name, strings.Join(missing, ", ")).
			WithDetails(map[string]any{"signature": s.Name, "missing": missing})
	}
	return out, nil
}

func (s *Signature) required() []string {
	var out []string
	for _, f := range s.Outputs {
		if !f.Optional {
			out = append(out, f.Name)
		}
	}
	return out
}
