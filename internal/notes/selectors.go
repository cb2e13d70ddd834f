package notes

import "github.com/2vlad/bridge/internal/browser"

// Step is one optional navigation hop on the way to the notes surface. Its
// target is waited for with a bounded timeout; absence means the account is
// already past that screen and the step simply does not apply.
type Step struct {
	Name   string
	Target browser.Locator
}

// Selectors locates everything the machine touches on the dashboard.
// Different accounts land on different intermediate screens, which is why
// Steps is a tolerant sequence rather than a rigid script.
type Selectors struct {
	LoginEmail    browser.Locator
	LoginPassword browser.Locator
	LoginButton   browser.Locator

	Steps []Step

	NoteItem  browser.Locator // one note row in the list view
	NoteTitle browser.Locator // title spans, in the same document order
	Editor    browser.Locator // textarea in the note editor view
	Save      browser.Locator

	// NotesPath is the URL fragment the final location must contain.
	NotesPath string
}

// DefaultSelectors matches the device dashboard's current markup.
func DefaultSelectors() Selectors {
	return Selectors{
		LoginEmail:    browser.CSS(`input[id$="_email"][type="text"], input[type="email"]`),
		LoginPassword: browser.CSS(`input[type="password"]`),
		LoginButton:   browser.CSS(`label[for="login-submit"], button[type="submit"]`),

		Steps: []Step{
			{
				Name:   "main-menu-phone",
				Target: browser.XPath(`//a[contains(@class, 'MainMenu__link') and @href='/devices']`),
			},
			{
				Name:   "phone-selection",
				Target: browser.XPath(`//body[//p[normalize-space(.)='Select a Phone']]//ul[contains(@class, 'MenuList')]//li[contains(@class, 'title')]`),
			},
			{
				Name:   "toolbox",
				Target: browser.XPath(`//ul[contains(@class, 'MenuList')]//li[normalize-space(.)='Toolbox']`),
			},
			{
				Name:   "notes-tool",
				Target: browser.XPath(`//a[substring(@href, string-length(@href) - string-length('/tools/notes') + 1) = '/tools/notes']`),
			},
			{
				Name:   "view-notes",
				Target: browser.XPath(`//a[./li[normalize-space(.)='View Notes']]`),
			},
		},

		NoteItem:  browser.CSS(`li.flex.flex-row`),
		NoteTitle: browser.CSS(`li.flex.flex-row span.title`),
		Editor:    browser.CSS(`textarea.ember-text-area`),
		Save:      browser.CSS(`button[type="submit"]`),

		NotesPath: "/tools/notes",
	}
}
