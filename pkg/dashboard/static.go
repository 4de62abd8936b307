package dashboard

// Static assets for the dashboard.
// Most styling comes from the Tailwind CDN; these rules cover the rest.

// getStaticAsset returns a static asset by name.
// Returns the content, content type, and whether the asset was found.
func getStaticAsset(name string) (content string, contentType string, ok bool) {
	switch name {
	case "style.css":
		return cssStyles, "text/css; charset=utf-8", true
	default:
		return "", "", false
	}
}

const cssStyles = `
:root {
    --color-primary: #3b82f6;
    --color-accent: #f97316;
    --color-bg-dark: #111827;
    --color-border: #374151;
}

body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
    background-color: var(--color-bg-dark);
    line-height: 1.6;
}

/* Monospace font for hashes and addresses */
.mono {
    font-family: ui-monospace, SFMono-Regular, 'SF Mono', Menlo, Monaco, Consolas, 'Liberation Mono', 'Courier New', monospace;
}

::-webkit-scrollbar {
    width: 8px;
    height: 8px;
}

::-webkit-scrollbar-track {
    background: var(--color-bg-dark);
}

::-webkit-scrollbar-thumb {
    background: var(--color-border);
    border-radius: 4px;
}

/* Data preview box */
.data-preview {
    max-height: 200px;
    overflow-y: auto;
    word-break: break-all;
}

input:focus {
    outline: none;
    border-color: var(--color-accent);
}
`
