// Package plugins loads declarative chat commands from YAML files.
//
// A plugin file lists commands:
//
//	commands:
//	  - name: ":rules"
//	    reply: "Be nice, {user}."
//	  - name: ":shout"
//	    min_level: normal
//	    expand: "@{room} {args}!"
//
// reply is sent to the caller as a service message. expand is fed back to
// the interpreter as if the caller had typed it. {user}, {room} and {args}
// are substituted in both.
package plugins

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/hallchat/internal/chat"
)

// ErrInvalidCommand is returned for plugin entries that can not be used.
var ErrInvalidCommand = errors.New("invalid plugin command")

// Command is one entry of a plugin file.
type Command struct {
	Name          string `yaml:"name"`
	Reply         string `yaml:"reply"`
	Expand        string `yaml:"expand"`
	MinLevel      string `yaml:"min_level"`
	MinPermission string `yaml:"min_permission"`
}

type file struct {
	Commands []Command `yaml:"commands"`
}

// Parse decodes a plugin file and validates every entry.
func Parse(data []byte) ([]Command, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode plugin file: %w", err)
	}
	for _, c := range f.Commands {
		if _, err := c.Handler(); err != nil {
			return nil, err
		}
	}
	return f.Commands, nil
}

// Handler compiles c into a chat handler.
func (c Command) Handler() (chat.Handler, error) {
	name := c.Name
	switch {
	case len(name) < 2 || !strings.HasPrefix(name, chat.CommandPrefix):
		return nil, fmt.Errorf("%w: name %q must start with %s", ErrInvalidCommand, name, chat.CommandPrefix)
	case strings.HasPrefix(name, chat.ServicePrefix) || strings.HasPrefix(name, chat.ParsablePrefix):
		return nil, fmt.Errorf("%w: name %q uses a reserved prefix", ErrInvalidCommand, name)
	case strings.ContainsAny(name, " \t\n"):
		return nil, fmt.Errorf("%w: name %q contains white space", ErrInvalidCommand, name)
	case c.Reply == "" && c.Expand == "":
		return nil, fmt.Errorf("%w: %s has neither reply nor expand", ErrInvalidCommand, name)
	}

	level := chat.LevelUnknown
	if c.MinLevel != "" {
		l, ok := chat.ParseLevel(c.MinLevel)
		if !ok {
			return nil, fmt.Errorf("%w: %s has unknown level %q", ErrInvalidCommand, name, c.MinLevel)
		}
		level = l
	}
	perm := chat.PermNone
	if c.MinPermission != "" {
		p, ok := chat.ParsePermission(c.MinPermission)
		if !ok {
			return nil, fmt.Errorf("%w: %s has unknown permission %q", ErrInvalidCommand, name, c.MinPermission)
		}
		perm = p
	}

	return func(s chat.State, req chat.Request) chat.State {
		if req.User.Level < level {
			return s.Emit(chat.LevelDenied(req.Conn, req.User.Level, level))
		}
		if have := req.Room.Permission(req.User.Username); have < perm {
			return s.Emit(chat.PermissionDenied(req.Conn, have, perm))
		}
		r := strings.NewReplacer("{user}", req.User.Username, "{room}", req.Room.Name, "{args}", strings.TrimSpace(req.Args))
		if c.Reply != "" {
			s = s.Emit(chat.Notice(req.Conn, r.Replace(c.Reply)))
		}
		if c.Expand != "" {
			line := r.Replace(c.Expand)
			if !strings.HasPrefix(line, chat.RoomPrefix) {
				line = chat.RoomPrefix + req.Room.Name + " " + line
			}
			s = s.Execute(req, line)
		}
		return s
	}, nil
}

// Load reads every *.yaml and *.yml file of dir. A missing directory yields
// no commands. Broken files are skipped and reported in the returned error;
// the commands of the other files are still returned. When two files define
// the same name the file that sorts first wins.
func Load(dir string, logger *slog.Logger) (map[string]chat.Handler, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("plugin directory not found", slog.String("dir", dir))
		return map[string]chat.Handler{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugin directory %s: %w", dir, err)
	}

	handlers := make(map[string]chat.Handler)
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !isPluginFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", path, err))
			continue
		}
		cmds, err := Parse(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		for _, c := range cmds {
			if _, dup := handlers[c.Name]; dup {
				logger.Warn("duplicate plugin command ignored", slog.String("command", c.Name), slog.String("file", path))
				continue
			}
			h, _ := c.Handler()
			handlers[c.Name] = h
		}
	}
	return handlers, errors.Join(errs...)
}

func isPluginFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Registry merges the plugin commands of dir into builtin. Built-in
// commands win over plugin commands of the same name; every such conflict
// and every broken plugin file is logged.
func Registry(builtin map[string]chat.Handler, dir string, logger *slog.Logger) *chat.Registry {
	extra, err := Load(dir, logger)
	if err != nil {
		logger.Error("failed to load some plugins", slog.Any("error", err))
	}
	reg, conflicts := chat.NewRegistry(builtin).Merge(extra)
	for _, name := range conflicts {
		logger.Warn("plugin command shadowed by built-in command", slog.String("command", name))
	}
	logger.Info("commands loaded", slog.Int("builtin", len(builtin)), slog.Int("plugins", len(extra)-len(conflicts)))
	return reg
}
