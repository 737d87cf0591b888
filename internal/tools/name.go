package tools

// Name identifies one of the local tools.
type Name string

const (
	Screenshot Name = "screenshot"
	ListFiles  Name = "list_files"
	ReadFile   Name = "read_file"
)

var aliases = map[string]Name{
	"capture-screen": Screenshot,
	"list-directory": ListFiles,
	"read-file":      ReadFile,
}

// ParseName resolves a model-issued tool name, including its aliases.
func ParseName(raw string) (Name, bool) {
	switch name := Name(raw); name {
	case Screenshot, ListFiles, ReadFile:
		return name, true
	}
	name, ok := aliases[raw]
	return name, ok
}
