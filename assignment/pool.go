package assignment

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/flashbots/inbox-arena/protocol"
	"gopkg.in/yaml.v3"
)

var defaultEntries = []protocol.PoolEntry{
	{Message: "The falcon leaves the tower at midnight.", Alias: "a bird leaving a tower"},
	{Message: "Three lanterns burn on the eastern pier.", Alias: "lights by the harbour"},
	{Message: "The library closes early on Thursdays.", Alias: "a place full of books"},
	{Message: "Bring two umbrellas to the northern gate.", Alias: "rain gear at a gate"},
	{Message: "The orchard apples ripened a week late.", Alias: "late fruit"},
	{Message: "A blue kite is stuck in the old oak.", Alias: "a toy caught in a tree"},
	{Message: "The ferry schedule changed after the storm.", Alias: "boats and bad weather"},
	{Message: "Copper wire hums louder when it is cold.", Alias: "a sound metal makes"},
	{Message: "The baker hides a coin in every tenth loaf.", Alias: "treasure in bread"},
	{Message: "Seven foxes crossed the frozen river.", Alias: "animals on ice"},
	{Message: "The clock tower runs four minutes fast.", Alias: "a timepiece that is wrong"},
	{Message: "Fresh paint on the lighthouse door is still wet.", Alias: "a coastal building being decorated"},
	{Message: "The violinist tunes her strings before dawn.", Alias: "early music practice"},
	{Message: "Salt crystals formed along the cellar wall.", Alias: "something growing underground"},
	{Message: "A map of the valley was folded into a swan.", Alias: "paper art"},
	{Message: "The garden gnome faces the wrong direction.", Alias: "a misplaced ornament"},
	{Message: "Midnight trains skip the station by the mill.", Alias: "a railway that does not stop"},
	{Message: "The glassblower made a green bottle with a crack.", Alias: "a flawed container"},
	{Message: "Honey from the hillside hives tastes of thyme.", Alias: "something sweet and herbal"},
	{Message: "The chess club lost its white queen again.", Alias: "a missing game piece"},
	{Message: "Snow settled only on the south side of the roof.", Alias: "strange winter weather"},
	{Message: "The market sells mangoes on rainy days only.", Alias: "tropical fruit in bad weather"},
	{Message: "An owl nests above the observatory dome.", Alias: "a bird among telescopes"},
	{Message: "The ink in the ledger turned from black to brown.", Alias: "fading writing"},
}

// Pool is the set of messages and aliases handed out each round.
// It is safe for concurrent use and may be replaced while running.
type Pool struct {
	mu      sync.RWMutex
	entries []protocol.PoolEntry
}

// DefaultPool returns the built-in pool.
func DefaultPool() *Pool {
	return &Pool{entries: slices.Clone(defaultEntries)}
}

// NewPool validates entries and builds a pool.
func NewPool(entries []protocol.PoolEntry) (*Pool, error) {
	if err := validateEntries(entries); err != nil {
		return nil, err
	}
	return &Pool{entries: slices.Clone(entries)}, nil
}

// Entries returns a snapshot of the pool.
func (p *Pool) Entries() []protocol.PoolEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.entries)
}

// Len returns the number of entries.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Replace swaps in new entries. Sessions already running keep their snapshot.
func (p *Pool) Replace(entries []protocol.PoolEntry) error {
	if err := validateEntries(entries); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = slices.Clone(entries)
	return nil
}

func validateEntries(entries []protocol.PoolEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("message pool is empty")
	}
	messages := make(map[string]bool, len(entries))
	aliases := make(map[string]bool, len(entries))
	for i, e := range entries {
		msg, alias := strings.TrimSpace(e.Message), strings.TrimSpace(e.Alias)
		if msg == "" || alias == "" {
			return fmt.Errorf("pool entry %d needs both message and alias", i)
		}
		if messages[msg] {
			return fmt.Errorf("pool entry %d repeats message %q", i, msg)
		}
		if aliases[alias] {
			return fmt.Errorf("pool entry %d repeats alias %q", i, alias)
		}
		messages[msg], aliases[alias] = true, true
	}
	return nil
}

type poolFile struct {
	Entries []protocol.PoolEntry `yaml:"entries"`
}

// LoadPoolFile reads entries from a YAML file of the form
//
//	entries:
//	  - message: "The falcon leaves the tower at midnight."
//	    alias: "a bird leaving a tower"
func LoadPoolFile(path string) ([]protocol.PoolEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pool file: %w", err)
	}
	var f poolFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing pool file: %w", err)
	}
	if err := validateEntries(f.Entries); err != nil {
		return nil, err
	}
	return f.Entries, nil
}
