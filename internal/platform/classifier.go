// Package platform maps content URLs to the social platform they came from.
package platform

import "strings"

// Tag identifies a platform
type Tag string

const (
	LinkedIn  Tag = "linkedin"
	YouTube   Tag = "youtube"
	Instagram Tag = "instagram"
	Facebook  Tag = "facebook"
)

// Classifier assigns a platform to a content URL.
type Classifier interface {
	Classify(url string) Tag
}

// URLClassifier guesses the platform from case-sensitive substrings of the
// URL. Anything it does not recognise is treated as LinkedIn, the service's
// primary source, so it never returns an unknown tag.
type URLClassifier struct{}

// Classify implements Classifier
func (URLClassifier) Classify(url string) Tag {
	switch {
	case strings.Contains(url, "youtube.com"), strings.Contains(url, "youtu.be"):
		return YouTube
	case strings.Contains(url, "instagram.com"):
		return Instagram
	default:
		return LinkedIn
	}
}

// Classify runs the default URL heuristic.
func Classify(url string) Tag {
	return URLClassifier{}.Classify(url)
}

// Func adapts a plain function to Classifier.
type Func func(url string) Tag

// Classify implements Classifier
func (f Func) Classify(url string) Tag { return f(url) }
