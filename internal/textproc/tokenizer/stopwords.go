package tokenizer

import "strings"

// English is the only stop-word language shipped.
const English = "english"

// SupportedLanguage reports whether lang names a language with a stop-word
// list. Both the full name and the ISO 639-1 code are accepted.
func SupportedLanguage(lang string) bool {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", English, "en":
		return true
	}
	return false
}

// IsStopWord reports whether the lowercased word is an English stop word.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

var stopWords = func() map[string]struct{} {
	m := make(map[string]struct{}, len(stopWordList))
	for _, w := range strings.Fields(stopWordList) {
		m[w] = struct{}{}
	}
	return m
}()

const stopWordList = `
a about above across after afterwards again against all almost alone along
already also although always am among amongst an and another any anyhow anyone
anything anyway anywhere are aren't around as at back be became because become
becomes becoming been before beforehand behind being below beside besides
between beyond both but by can cannot can't could couldn't did didn't do does
doesn't doing don't done down due during each either else elsewhere enough etc
even ever every everyone everything everywhere except few first for former
formerly from further had hadn't has hasn't have haven't having he he'd he'll
hence her here hereafter hereby herein here's hers herself he's him himself his
how however how's i i'd i'll i'm i've if in indeed into is isn't it its it's
itself just last latter latterly least less let's like made many may me
meanwhile might mine more moreover most mostly much must mustn't my myself
namely neither never nevertheless next no nobody none nor not nothing now
nowhere of off often on once one only onto or other others otherwise our ours
ourselves out over own per perhaps please quite rather re really same several
shall shan't she she'd she'll she's should shouldn't since so some somehow
someone something sometime sometimes somewhere still such than that that's the
their theirs them themselves then thence there thereafter thereby therefore
therein there's thereupon these they they'd they'll they're they've this those
though through throughout thru thus to together too toward towards under until
up upon us very via was wasn't we we'd we'll we're were weren't we've what
whatever what's when whence whenever when's where whereafter whereas whereby
wherein where's whereupon wherever whether which while whither who whoever
whole whom who's whose why why's will with within without won't would wouldn't
yet you you'd you'll your you're yours yourself yourselves you've
`
