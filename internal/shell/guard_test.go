package shell

import "testing"

func TestLongRunningReason(t *testing.T) {
	longRunning := []string{
		"tail -f /var/log/syslog",
		"journalctl -u api | tail -f",
		"watch kubectl get pods",
		"npm run dev",
		"npm start",
		"yarn dev",
		"pnpm run serve",
		"bun dev",
		"vite",
		"next dev",
		"nodemon server.js",
		"flask run",
		"rails s",
		"rails server",
		"uvicorn app:app",
		"gunicorn app:app",
		"php -S localhost:8000",
		"python -m http.server 8080",
		"python3 -m http.server",
		"nc -l 9000",
		"ncat -vl 9000",
		"kubectl port-forward svc/api 8080:80",
		"while true; do date; done",
		"while :; do date; done",
		"sleep infinity",
		"cargo watch -x check",
		"docker compose up",
		"docker-compose up web",
		"ping example.com",
		"make build &",
	}
	for _, cmd := range longRunning {
		if reason := LongRunningReason(cmd); reason == "" {
			t.Errorf("expected long-running verdict for %q", cmd)
		}
	}

	bounded := []string{
		"",
		"ls -la",
		"tail -n 20 access.log",
		"git status",
		"npm install",
		"npm run build",
		"npm test",
		"go vet ./...",
		"docker compose up -d",
		"docker-compose up --detach db",
		"ping -c 3 example.com",
		"echo watch out",
		"grep -r nodemon docs/",
		"cat nc-notes.txt",
		"sleep 2",
		"python -m pytest",
	}
	for _, cmd := range bounded {
		if reason := LongRunningReason(cmd); reason != "" {
			t.Errorf("false positive for %q: %s", cmd, reason)
		}
	}
}
