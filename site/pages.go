package site

import (
	"bytes"
	"html/template"
)

// ErrorPage is the fixed body of every 500 response.
const ErrorPage = "<html><body><h1>Error generating content</h1><p>Please try again later.</p></body></html>"

var blockedPage = template.Must(template.New("blocked").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Page Not Found - HalNet</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: linear-gradient(135deg, #4c1d95 0%, #1e40af 100%);
            color: white;
            margin: 0;
            padding: 20px;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
        }
        .container {
            text-align: center;
            max-width: 600px;
            background: rgba(255, 255, 255, 0.1);
            padding: 2rem;
            border-radius: 15px;
            backdrop-filter: blur(10px);
            box-shadow: 0 8px 32px rgba(0, 0, 0, 0.3);
        }
        h1 { font-size: 3rem; margin: 0 0 1rem 0; color: #e5e7eb; }
        h2 { font-size: 1.5rem; margin: 0 0 1rem 0; color: #c7d2fe; }
        p { font-size: 1.1rem; line-height: 1.6; margin: 1rem 0; }
        .path {
            font-family: monospace;
            background: rgba(0, 0, 0, 0.3);
            padding: 0.5rem;
            border-radius: 5px;
            color: #fbbf24;
        }
        a {
            color: #60a5fa;
            text-decoration: none;
            font-weight: bold;
        }
        a:hover { color: #93c5fd; }
    </style>
</head>
<body>
    <div class="container">
        <h1>404</h1>
        <h2>Page Not Found</h2>
        <p>The page <span class="path">{{.Requested}}</span> cannot be accessed because its parent page <span class="path">{{.Parent}}</span> doesn't exist yet.</p>
        <p>In HalNet, pages must be explored in hierarchical order. Please navigate to <a href="{{.Parent}}">{{.Parent}}</a> first to unlock access to deeper content.</p>
        <p><a href="/">&larr; Return to Main Page</a></p>
    </div>
</body>
</html>
`))

// renderBlocked returns the page explaining that parent must be visited before requested.
func renderBlocked(requested, parent string) []byte {
	var buf bytes.Buffer
	if err := blockedPage.Execute(&buf, struct{ Requested, Parent string }{requested, parent}); err != nil {
		return []byte(ErrorPage)
	}
	return buf.Bytes()
}
