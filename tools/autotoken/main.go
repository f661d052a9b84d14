// autotoken logs into a Slack workspace with a headless browser and
// writes the extracted token and cookie to the files that localslackirc
// reads at startup.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

var (
	flagDebug          = pflag.BoolP("debug", "d", false, "Enable debug log")
	flagShowBrowser    = pflag.BoolP("show-browser", "b", false, "Show the browser, useful for debugging")
	flagChromePath     = pflag.StringP("chrome-path", "c", "", "Custom path for the chrome browser")
	flagMFA            = pflag.StringP("mfa", "m", "", "Multi-factor authentication token (necessary if MFA is enabled on your account)")
	flagWaitGDPRNotice = pflag.BoolP("gdpr", "g", false, "Wait for Slack's GDPR notice pop-up before inserting username and password")
	flagTimeout        = pflag.UintP("timeout", "t", 30, "Timeout in seconds")
	flagTokenFile      = pflag.String("tokenfile", defaultPath(".localslackirc"), "Where to write the extracted token")
	flagCookieFile     = pflag.String("cookiefile", defaultPath(".localslackirc-cookie"), "Where to write the extracted cookie")
	flagStdout         = pflag.BoolP("stdout", "s", false, "Print token and cookie to stdout instead of writing the files")
)

func defaultPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, name)
}

func main() {
	usage := func() {
		fmt.Fprintf(os.Stderr, "autotoken: log into a Slack team and store token and cookie for localslackirc.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] teamname[.slack.com] email [password]\n\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(1)
	}
	pflag.Usage = usage
	pflag.Parse()
	if pflag.NArg() < 2 {
		usage()
	}
	team := pflag.Arg(0)
	email := pflag.Arg(1)
	var password string
	if pflag.NArg() < 3 {
		fmt.Fprintf(os.Stderr, "Enter your Slack password for user %s on team %s: ", email, team)
		pbytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			log.Fatalf("Failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		password = string(pbytes)
	} else {
		password = pflag.Arg(2)
	}

	timeout := time.Duration(*flagTimeout) * time.Second
	token, cookie, err := fetchCredentials(context.Background(), team, email, password, timeout)
	if err != nil {
		log.Fatalf("Failed to fetch credentials for team `%s`: %v", team, err)
	}

	if *flagStdout {
		fmt.Printf("%s|%s\n", token, cookie)
		return
	}
	if err := os.WriteFile(*flagTokenFile, []byte(token+"\n"), 0o600); err != nil {
		log.Fatalf("Cannot write token file: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Token written to %s\n", *flagTokenFile)
	if cookie != "" {
		if err := os.WriteFile(*flagCookieFile, []byte(cookie+"\n"), 0o600); err != nil {
			log.Fatalf("Cannot write cookie file: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Cookie written to %s\n", *flagCookieFile)
	}
}

// fetchCredentials drives a browser through the Slack login and pulls
// the xoxc token and the d= cookie out of the workspace page.
func fetchCredentials(ctx context.Context, team, email, password string, timeout time.Duration) (string, string, error) {
	if !strings.HasSuffix(team, ".slack.com") {
		team += ".slack.com"
	}
	teamURL := "https://" + team

	var cancel func()
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	var allocatorOpts []chromedp.ExecAllocatorOption
	if *flagShowBrowser {
		allocatorOpts = append(allocatorOpts, chromedp.NoFirstRun, chromedp.NoDefaultBrowserCheck)
	}
	if *flagChromePath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(*flagChromePath))
	}
	ctx, cancel = chromedp.NewExecAllocator(ctx, allocatorOpts...)
	defer cancel()

	var opts []chromedp.ContextOption
	if *flagDebug {
		opts = append(opts, chromedp.WithDebugf(log.Printf))
	}
	ctx, cancel = chromedp.NewContext(ctx, opts...)
	defer cancel()

	fmt.Fprintf(os.Stderr, "Fetching token and cookie for %s on %s\n", email, team)

	tasks := chromedp.Tasks{
		chromedp.Navigate(teamURL),
	}
	if *flagWaitGDPRNotice {
		tasks = append(tasks,
			chromedp.WaitVisible(`//*[@id="onetrust-pc-btn-handler"]`),
			chromedp.Sleep(2*time.Second),
			chromedp.Click(`//*[@id="onetrust-pc-btn-handler"]`),
			chromedp.WaitVisible(`//*[@class="save-preference-btn-handler onetrust-close-btn-handler"]`),
			chromedp.Sleep(2*time.Second),
			chromedp.Click(`//*[@class="save-preference-btn-handler onetrust-close-btn-handler"]`),
		)
	}
	selEmail, selPassword := `//input[@id="email"]`, `//input[@id="password"]`
	tasks = append(tasks,
		chromedp.WaitVisible(selEmail),
		chromedp.SendKeys(selEmail, email),
		chromedp.WaitVisible(selPassword),
		chromedp.SendKeys(selPassword, password),
		chromedp.Submit(selPassword),
	)
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", "", fmt.Errorf("failed to send credentials: %w", err)
	}
	if *flagMFA != "" {
		selMFA := `//input[@class="auth_code"]`
		mfaTasks := chromedp.Tasks{
			chromedp.WaitVisible(".auth_code"),
			chromedp.SendKeys(selMFA, *flagMFA),
			chromedp.Submit(selMFA),
		}
		if err := chromedp.Run(ctx, mfaTasks); err != nil {
			return "", "", fmt.Errorf("failed to send MFA code: %w", err)
		}
	}
	return extractTokenAndCookie(ctx)
}

// extractTokenAndCookie pulls the token out of the workspace's local
// storage and the d cookie out of the browser's cookie jar.
func extractTokenAndCookie(ctx context.Context) (string, string, error) {
	var token, cookie string
	tasks := chromedp.Tasks{
		chromedp.WaitVisible(".p-workspace__primary_view_contents"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			v, exp, err := runtime.Evaluate(`q=JSON.parse(localStorage.localConfig_v2)["teams"]; q[Object.keys(q)[0]]["token"]`).Do(ctx)
			if err != nil {
				return err
			}
			if exp != nil {
				return exp
			}
			if err := json.Unmarshal(v.Value, &token); err != nil {
				return fmt.Errorf("failed to unmarshal token: %v", err)
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			cookies, err := network.GetCookies().Do(ctx)
			if err != nil {
				return err
			}
			for _, c := range cookies {
				if c.Name == "d" {
					cookie = fmt.Sprintf("d=%s;", c.Value)
				}
			}
			return nil
		}),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", "", err
	}
	return token, cookie, nil
}
