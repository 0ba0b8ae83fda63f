package bddtest

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/kasimir-dev/gotorrent-core/internal/bitfield"
	"github.com/kasimir-dev/gotorrent-core/internal/tracker"
)

type scrapeScenario struct {
	announceURL string
	scrapeURL   string
	err         error
}

func (s *scrapeScenario) givenAnAnnounceURL(u string) error {
	s.announceURL = u
	return nil
}

func (s *scrapeScenario) whenIDeriveTheScrapeURL() error {
	s.scrapeURL, s.err = tracker.DeriveScrapeURL(s.announceURL)
	return nil
}

func (s *scrapeScenario) theScrapeURLShouldBe(expected string) error {
	if s.err != nil {
		return fmt.Errorf("unexpected error: %w", s.err)
	}
	if s.scrapeURL != expected {
		return fmt.Errorf("got %q, want %q", s.scrapeURL, expected)
	}
	return nil
}

func (s *scrapeScenario) scrapeShouldBeUnsupported() error {
	if s.err == nil || !tracker.IsScrapeUnsupported(s.err) {
		return fmt.Errorf("expected a scrape-unsupported error, got %v", s.err)
	}
	return nil
}

type bitfieldScenario struct {
	named   map[string]bitfield.Bitfield
	decoded bitfield.Bitfield
	rarest  int
	found   bool
}

func newBitfieldScenario() *bitfieldScenario {
	return &bitfieldScenario{named: make(map[string]bitfield.Bitfield)}
}

func parseMembers(size int, csv string) bitfield.Bitfield {
	bf := bitfield.New(size)
	for _, field := range strings.Split(csv, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		i, _ := strconv.Atoi(field)
		bf.Insert(i)
	}
	return bf
}

func (s *bitfieldScenario) givenABitfieldWithMembers(size int, csv string) error {
	s.decoded = parseMembers(size, csv)
	return nil
}

func (s *bitfieldScenario) givenANamedBitfield(size int, csv, name string) error {
	s.named[name] = parseMembers(size, csv)
	return nil
}

func (s *bitfieldScenario) whenIEncodeAndDecode() error {
	s.decoded = bitfield.FromBytes(s.decoded.TotalCount(), s.decoded.Bytes())
	return nil
}

func (s *bitfieldScenario) theDecodedBitfieldShouldHaveMembers(csv string) error {
	want := parseMembers(s.decoded.TotalCount(), csv)
	if !s.decoded.Equal(want) {
		return fmt.Errorf("decoded bitfield does not match expected members %q", csv)
	}
	return nil
}

func (s *bitfieldScenario) whenIComputeTheRarestPieceAcross(names string) error {
	var bfs []bitfield.Bitfield
	for _, name := range strings.Split(names, ",") {
		bfs = append(bfs, s.named[strings.TrimSpace(name)])
	}
	s.rarest, s.found = bitfield.Rarest(bfs)
	return nil
}

func (s *bitfieldScenario) theRarestPieceShouldBe(index int) error {
	if !s.found {
		return fmt.Errorf("expected a rarest piece, found none")
	}
	if s.rarest != index {
		return fmt.Errorf("got rarest piece %d, want %d", s.rarest, index)
	}
	return nil
}

func (s *bitfieldScenario) noRarestPieceShouldBeFound() error {
	if s.found {
		return fmt.Errorf("expected no rarest piece, got %d", s.rarest)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	scrape := &scrapeScenario{}
	ctx.Step(`^an announce url "([^"]*)"$`, scrape.givenAnAnnounceURL)
	ctx.Step(`^I derive the scrape url$`, scrape.whenIDeriveTheScrapeURL)
	ctx.Step(`^the scrape url should be "([^"]*)"$`, scrape.theScrapeURLShouldBe)
	ctx.Step(`^scrape should be reported unsupported$`, scrape.scrapeShouldBeUnsupported)

	bf := newBitfieldScenario()
	ctx.Step(`^a bitfield of size (\d+) with members "([^"]*)"$`, bf.givenABitfieldWithMembers)
	ctx.Step(`^a bitfield of size (\d+) with members "([^"]*)" named "([^"]*)"$`, bf.givenANamedBitfield)
	ctx.Step(`^I encode it to bytes and decode it back$`, bf.whenIEncodeAndDecode)
	ctx.Step(`^the decoded bitfield should have members "([^"]*)"$`, bf.theDecodedBitfieldShouldHaveMembers)
	ctx.Step(`^I compute the rarest piece across "([^"]*)"$`, bf.whenIComputeTheRarestPieceAcross)
	ctx.Step(`^the rarest piece should be (\d+)$`, bf.theRarestPieceShouldBe)
	ctx.Step(`^no rarest piece should be found$`, bf.noRarestPieceShouldBeFound)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
