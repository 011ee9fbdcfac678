// Package extractor walks parsed HTML with goquery and returns the image and
// video references a page embeds, resolved against the page URL.
package extractor
