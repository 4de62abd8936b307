package dashboard

// HTML templates for the dashboard pages.
// These are embedded as strings and parsed at runtime.

const layoutTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Rock Destroyer Dashboard</title>
    <script src="https://cdn.tailwindcss.com"></script>
    <link rel="stylesheet" href="/static/style.css">
</head>
<body class="bg-gray-900 text-gray-100 min-h-screen">
    <!-- Navigation -->
    <nav class="bg-gray-800 border-b border-gray-700 sticky top-0 z-50">
        <div class="container mx-auto px-4">
            <div class="flex items-center justify-between h-16">
                <div class="flex items-center space-x-8">
                    <a href="/" class="flex items-center space-x-2">
                        <svg class="w-8 h-8 text-orange-500" fill="currentColor" viewBox="0 0 24 24">
                            <path d="M12 2l3 6 6 1-4.5 4.5L18 20l-6-3-6 3 1.5-6.5L3 9l6-1z"/>
                        </svg>
                        <span class="text-xl font-bold text-white">Rock Destroyer</span>
                    </a>
                    <div class="hidden md:flex items-center space-x-4">
                        <a href="/" class="px-3 py-2 rounded-md text-sm font-medium {{if eq .PageName "home"}}bg-gray-900 text-white{{else}}text-gray-300 hover:bg-gray-700 hover:text-white{{end}}">Overview</a>
                        <a href="/leaderboards" class="px-3 py-2 rounded-md text-sm font-medium {{if or (eq .PageName "leaderboards") (eq .PageName "leaderboard")}}bg-gray-900 text-white{{else}}text-gray-300 hover:bg-gray-700 hover:text-white{{end}}">Leaderboards</a>
                    </div>
                </div>
                <form action="/accounts" method="get" class="flex items-center">
                    <input name="q" placeholder="Account address" class="bg-gray-900 border border-gray-700 rounded px-3 py-1 text-sm mono w-72">
                </form>
            </div>
        </div>
    </nav>

    <!-- Main Content -->
    <main class="container mx-auto px-4 py-6">
        {{.Content}}
    </main>

    <!-- Footer -->
    <footer class="bg-gray-800 border-t border-gray-700 mt-8 py-4">
        <div class="container mx-auto px-4 text-center text-gray-400 text-sm">
            Rock Destroyer Node | <span id="current-time"></span>
        </div>
    </footer>

    <script>
        function updateTime() {
            document.getElementById('current-time').textContent = new Date().toUTCString();
        }
        updateTime();
        setInterval(updateTime, 1000);

        // Auto-refresh status for home page
        if (window.location.pathname === '/') {
            setInterval(async () => {
                try {
                    const resp = await fetch('/api/status');
                    const data = await resp.json();

                    const slotEl = document.getElementById('current-slot');
                    if (slotEl) slotEl.textContent = data.slot?.toLocaleString() || '0';

                    const hashEl = document.getElementById('bank-hash');
                    if (hashEl) hashEl.textContent = data.bankHash || '';

                    const accountsEl = document.getElementById('accounts-count');
                    if (accountsEl) accountsEl.textContent = data.accountsCount?.toLocaleString() || '0';

                    const uptimeEl = document.getElementById('uptime');
                    if (uptimeEl) uptimeEl.textContent = data.uptime || '0s';
                } catch (e) {
                    console.error('Failed to fetch status:', e);
                }
            }, 5000);
        }
    </script>
</body>
</html>`

const homeTemplate = `
<div class="space-y-6">
    <!-- Status Cards -->
    <div class="grid grid-cols-1 md:grid-cols-2 lg:grid-cols-4 gap-4">
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Current Slot</p>
            <p class="text-3xl font-bold text-white mt-1" id="current-slot">{{.Slot}}</p>
            <p class="text-sm mt-1 {{if .IsRunning}}text-green-500{{else}}text-red-500{{end}}">{{if .IsRunning}}Running{{else}}Stopped{{end}}</p>
        </div>
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Leaderboards</p>
            <p class="text-3xl font-bold text-white mt-1">{{.Leaderboards}}</p>
            <a href="/leaderboards" class="text-sm text-blue-400 hover:text-blue-300">View all &rarr;</a>
        </div>
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Total Accounts</p>
            <p class="text-3xl font-bold text-white mt-1" id="accounts-count">{{formatNumber .AccountsCount}}</p>
        </div>
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Uptime</p>
            <p class="text-3xl font-bold text-white mt-1" id="uptime">{{formatDuration .Uptime}}</p>
        </div>
    </div>

    <div class="grid grid-cols-1 md:grid-cols-3 gap-4">
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700 md:col-span-2">
            <p class="text-gray-400 text-sm font-medium">Bank Hash</p>
            <p class="text-white mono text-sm break-all mt-1" id="bank-hash">{{.BankHash}}</p>
        </div>
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Ledger</p>
            {{if .Ledger}}
            <p class="text-2xl font-bold text-white mt-1">{{formatNumber .Ledger.TransactionCount}} txs</p>
            <p class="text-sm text-gray-500 mt-1">slots {{.Ledger.OldestSlot}}&ndash;{{.Ledger.LatestSlot}} | {{formatBytes .Ledger.DatabaseSize}}</p>
            {{else}}
            <p class="text-gray-500 mt-1">unavailable</p>
            {{end}}
        </div>
    </div>

    {{if .LastError}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4">
        <span class="text-red-200 text-sm">{{.LastError}}</span>
    </div>
    {{end}}

    <!-- Geyser Plugins -->
    <div class="bg-gray-800 rounded-lg border border-gray-700 overflow-hidden">
        <div class="px-6 py-4 border-b border-gray-700">
            <h2 class="text-lg font-semibold text-white">Geyser Plugins</h2>
        </div>
        <table class="w-full">
            <thead class="bg-gray-700/50">
                <tr>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Plugin</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Delivered</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Failed</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Dropped</th>
                </tr>
            </thead>
            <tbody class="divide-y divide-gray-700">
                {{range .Plugins}}
                <tr>
                    <td class="px-6 py-4 whitespace-nowrap text-white">{{.Name}}</td>
                    <td class="px-6 py-4 whitespace-nowrap text-gray-300">{{formatNumber .Delivered}}</td>
                    <td class="px-6 py-4 whitespace-nowrap {{if .Failed}}text-red-400{{else}}text-gray-300{{end}}">{{.Failed}}</td>
                    <td class="px-6 py-4 whitespace-nowrap {{if .Dropped}}text-yellow-400{{else}}text-gray-300{{end}}">{{.Dropped}}</td>
                </tr>
                {{else}}
                <tr>
                    <td colspan="4" class="px-6 py-8 text-center text-gray-500">No plugins registered</td>
                </tr>
                {{end}}
            </tbody>
        </table>
    </div>
</div>
`

const leaderboardsTemplate = `
<div class="space-y-6">
    <div class="flex items-center justify-between">
        <h1 class="text-2xl font-bold text-white">Leaderboards</h1>
        <form action="/leaderboards" method="get" class="flex items-center space-x-2">
            <input name="owner" placeholder="Game owner" class="bg-gray-800 border border-gray-700 rounded px-3 py-2 text-sm mono w-96">
            <button type="submit" class="px-4 py-2 bg-blue-600 text-white rounded hover:bg-blue-500 text-sm">Find</button>
        </form>
    </div>

    {{if .Error}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4">
        <p class="text-red-200">{{.Error}}</p>
    </div>
    {{end}}

    <div class="bg-gray-800 rounded-lg border border-gray-700 overflow-hidden">
        <table class="w-full">
            <thead class="bg-gray-700/50">
                <tr>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Owner</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Address</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Players</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Leader</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Top Score</th>
                </tr>
            </thead>
            <tbody class="divide-y divide-gray-700">
                {{range .Boards}}
                <tr class="hover:bg-gray-700/50">
                    <td class="px-6 py-4 whitespace-nowrap">
                        <a href="/leaderboards/{{.Owner}}" class="text-blue-400 hover:text-blue-300 mono text-sm">{{truncateHash .Owner 8}}</a>
                    </td>
                    <td class="px-6 py-4 whitespace-nowrap">
                        <a href="/accounts/{{.Address}}" class="text-gray-300 hover:text-white mono text-sm">{{truncateHash .Address 8}}</a>
                    </td>
                    <td class="px-6 py-4 whitespace-nowrap text-gray-300">
                        {{.Players}}{{if .Unpaid}} <span class="text-gray-500 text-sm">({{.Unpaid}} unpaid)</span>{{end}}
                    </td>
                    <td class="px-6 py-4 whitespace-nowrap text-white">{{.TopPlayer}}</td>
                    <td class="px-6 py-4 whitespace-nowrap text-white font-medium">{{.TopScore}}</td>
                </tr>
                {{else}}
                <tr>
                    <td colspan="5" class="px-6 py-8 text-center text-gray-500">No leaderboards initialized</td>
                </tr>
                {{end}}
            </tbody>
        </table>
    </div>
</div>
`

const leaderboardDetailTemplate = `
<div class="space-y-6">
    {{if .Error}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4">
        <p class="text-red-200">{{.Error}}</p>
    </div>
    <a href="/leaderboards" class="inline-block text-blue-400 hover:text-blue-300">&larr; Back to leaderboards</a>
    {{else}}
    <div class="flex items-center space-x-4">
        <a href="/leaderboards" class="text-gray-400 hover:text-white">&larr;</a>
        <h1 class="text-2xl font-bold text-white">Leaderboard</h1>
    </div>

    <div class="bg-gray-800 rounded-lg border border-gray-700 p-6">
        <div class="grid grid-cols-1 md:grid-cols-3 gap-4">
            <div>
                <p class="text-gray-400 text-sm">Game Owner</p>
                <a href="/accounts/{{.Board.Owner.String}}" class="text-blue-400 hover:text-blue-300 mono text-sm break-all">{{.Board.Owner.String}}</a>
            </div>
            <div>
                <p class="text-gray-400 text-sm">Address</p>
                <a href="/accounts/{{.Board.Address.String}}" class="text-blue-400 hover:text-blue-300 mono text-sm break-all">{{.Board.Address.String}}</a>
            </div>
            <div>
                <p class="text-gray-400 text-sm">Balance</p>
                <p class="text-white">{{formatSOL .Board.Lamports}} SOL</p>
            </div>
        </div>
    </div>

    <!-- Ranking -->
    <div class="bg-gray-800 rounded-lg border border-gray-700 overflow-hidden">
        <div class="px-6 py-4 border-b border-gray-700">
            <h2 class="text-lg font-semibold text-white">Ranking ({{len .Board.Ranking}})</h2>
        </div>
        <table class="w-full">
            <thead class="bg-gray-700/50">
                <tr>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">#</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Player</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Wallet</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Score</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Entry</th>
                </tr>
            </thead>
            <tbody class="divide-y divide-gray-700">
                {{range $i, $p := .Board.Ranking}}
                <tr class="hover:bg-gray-700/50">
                    <td class="px-6 py-4 whitespace-nowrap text-gray-400">{{add $i 1}}</td>
                    <td class="px-6 py-4 whitespace-nowrap text-white font-medium">{{$p.Username}}</td>
                    <td class="px-6 py-4 whitespace-nowrap">
                        <a href="/accounts/{{$p.Pubkey.String}}" class="text-blue-400 hover:text-blue-300 mono text-sm">{{truncateHash $p.Pubkey.String 8}}</a>
                    </td>
                    <td class="px-6 py-4 whitespace-nowrap text-white">{{$p.Score}}</td>
                    <td class="px-6 py-4 whitespace-nowrap">
                        {{if $p.HasPaid}}
                        <span class="px-2 py-1 text-xs font-medium rounded bg-green-500/20 text-green-400">Paid</span>
                        {{else}}
                        <span class="px-2 py-1 text-xs font-medium rounded bg-gray-500/20 text-gray-400">Used</span>
                        {{end}}
                    </td>
                </tr>
                {{else}}
                <tr>
                    <td colspan="5" class="px-6 py-8 text-center text-gray-500">No players yet</td>
                </tr>
                {{end}}
            </tbody>
        </table>
    </div>

    {{template "history" .History}}
    {{end}}
</div>
{{define "history"}}
<div class="bg-gray-800 rounded-lg border border-gray-700 overflow-hidden">
    <div class="px-6 py-4 border-b border-gray-700">
        <h2 class="text-lg font-semibold text-white">Recent Transactions</h2>
    </div>
    <table class="w-full">
        <thead class="bg-gray-700/50">
            <tr>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Signature</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Slot</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Time</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Status</th>
            </tr>
        </thead>
        <tbody class="divide-y divide-gray-700">
            {{range .}}
            <tr class="hover:bg-gray-700/50">
                <td class="px-6 py-4 whitespace-nowrap">
                    <a href="/transactions/{{.Signature.String}}" class="text-blue-400 hover:text-blue-300 mono text-sm">{{truncateHash .Signature.String 12}}</a>
                </td>
                <td class="px-6 py-4 whitespace-nowrap text-gray-300">{{.Slot}}</td>
                <td class="px-6 py-4 whitespace-nowrap text-gray-400 text-sm">{{formatTime .BlockTime}}</td>
                <td class="px-6 py-4 whitespace-nowrap">
                    {{if .Err}}
                    <span class="px-2 py-1 text-xs font-medium rounded bg-red-500/20 text-red-400">Failed</span>
                    {{else}}
                    <span class="px-2 py-1 text-xs font-medium rounded bg-green-500/20 text-green-400">Success</span>
                    {{end}}
                </td>
            </tr>
            {{else}}
            <tr>
                <td colspan="4" class="px-6 py-8 text-center text-gray-500">No transactions recorded</td>
            </tr>
            {{end}}
        </tbody>
    </table>
</div>
{{end}}
`

const accountDetailTemplate = `
<div class="space-y-6">
    {{if .Error}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4">
        <p class="text-red-200">{{.Error}}</p>
    </div>
    <a href="/" class="inline-block text-blue-400 hover:text-blue-300">&larr; Back to overview</a>
    {{else}}
    <div class="flex items-center space-x-4">
        <a href="javascript:history.back()" class="text-gray-400 hover:text-white">&larr;</a>
        <h1 class="text-2xl font-bold text-white">Account Details</h1>
    </div>

    <div class="bg-gray-800 rounded-lg border border-gray-700 p-6 space-y-4">
        <div class="grid grid-cols-1 md:grid-cols-2 gap-4">
            <div>
                <p class="text-gray-400 text-sm">Public Key</p>
                <p class="text-white mono text-sm break-all">{{.Pubkey}}</p>
            </div>
            <div>
                <p class="text-gray-400 text-sm">Balance</p>
                <p class="text-white font-medium">{{formatSOL .Account.Lamports}} SOL</p>
                <p class="text-gray-500 text-sm">{{.Account.Lamports}} lamports</p>
            </div>
            <div>
                <p class="text-gray-400 text-sm">Owner</p>
                <a href="/accounts/{{.Account.Owner.String}}" class="text-blue-400 hover:text-blue-300 mono text-sm break-all">{{.Account.Owner.String}}</a>
            </div>
            <div>
                <p class="text-gray-400 text-sm">Data Size</p>
                <p class="text-white">{{len .Account.Data}} bytes</p>
            </div>
        </div>

        {{if .BoardOwner}}
        <div class="bg-orange-500/10 border border-orange-500/40 rounded p-4">
            <p class="text-orange-200 text-sm">Leaderboard of <a href="/leaderboards/{{.BoardOwner}}" class="text-blue-400 hover:text-blue-300 mono">{{.BoardOwner}}</a></p>
        </div>
        {{else if .Account.Data}}
        <div>
            <p class="text-gray-400 text-sm mb-2">Data Preview (hex)</p>
            <div class="bg-gray-900 rounded p-4 mono text-xs text-gray-300 data-preview overflow-x-auto">
                {{range $i, $b := .Account.Data}}{{if lt $i 256}}{{printf "%02x " $b}}{{end}}{{end}}{{if gt (len .Account.Data) 256}}...{{end}}
            </div>
        </div>
        {{end}}
    </div>

    {{template "history" .History}}
    {{end}}
</div>
`

const transactionTemplate = `
<div class="space-y-6">
    {{if .Error}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4">
        <p class="text-red-200">{{.Error}}</p>
    </div>
    <a href="/" class="inline-block text-blue-400 hover:text-blue-300">&larr; Back to overview</a>
    {{else}}
    <div class="flex items-center space-x-4">
        <a href="javascript:history.back()" class="text-gray-400 hover:text-white">&larr;</a>
        <h1 class="text-2xl font-bold text-white">Transaction Details</h1>
    </div>

    <div class="bg-gray-800 rounded-lg border border-gray-700 p-6 space-y-4">
        <div class="grid grid-cols-1 md:grid-cols-2 gap-4">
            <div class="md:col-span-2">
                <p class="text-gray-400 text-sm">Signature</p>
                <p class="text-white mono text-sm break-all">{{.Signature}}</p>
            </div>
            <div>
                <p class="text-gray-400 text-sm">Slot</p>
                <p class="text-white">{{.Transaction.Slot}}</p>
            </div>
            <div>
                <p class="text-gray-400 text-sm">Time</p>
                <p class="text-white">{{formatTime .Transaction.BlockTime}}</p>
            </div>
            <div>
                <p class="text-gray-400 text-sm">Status</p>
                {{if .Transaction.Succeeded}}
                <span class="px-2 py-1 text-sm font-medium rounded bg-green-500/20 text-green-400">Success</span>
                {{else}}
                <span class="px-2 py-1 text-sm font-medium rounded bg-red-500/20 text-red-400">Failed</span>
                <p class="text-red-400 text-sm mt-1">{{.Transaction.ErrMessage}}</p>
                {{end}}
            </div>
            <div>
                <p class="text-gray-400 text-sm">Fee</p>
                <p class="text-white">{{.Transaction.Fee}} lamports</p>
                <p class="text-gray-500 text-sm">{{.Transaction.ComputeUnitsConsumed}} compute units</p>
            </div>
        </div>
    </div>

    <!-- Account Keys -->
    <div class="bg-gray-800 rounded-lg border border-gray-700 overflow-hidden">
        <div class="px-6 py-4 border-b border-gray-700">
            <h2 class="text-lg font-semibold text-white">Account Keys ({{len .Transaction.AccountKeys}})</h2>
        </div>
        <table class="w-full">
            <thead class="bg-gray-700/50">
                <tr>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">#</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Address</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Post Balance</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Change</th>
                </tr>
            </thead>
            <tbody class="divide-y divide-gray-700">
                {{$tx := .Transaction}}
                {{range $i, $key := .Transaction.AccountKeys}}
                <tr class="hover:bg-gray-700/50">
                    <td class="px-6 py-4 whitespace-nowrap text-gray-400">{{$i}}</td>
                    <td class="px-6 py-4 whitespace-nowrap">
                        <a href="/accounts/{{$key.String}}" class="text-blue-400 hover:text-blue-300 mono text-sm">{{$key.String}}</a>
                    </td>
                    <td class="px-6 py-4 whitespace-nowrap text-gray-300">{{index $tx.PostBalances $i}}</td>
                    <td class="px-6 py-4 whitespace-nowrap mono text-sm">{{balanceChange (index $tx.PreBalances $i) (index $tx.PostBalances $i)}}</td>
                </tr>
                {{end}}
            </tbody>
        </table>
    </div>

    <!-- Logs -->
    <div class="bg-gray-800 rounded-lg border border-gray-700 overflow-hidden">
        <div class="px-6 py-4 border-b border-gray-700">
            <h2 class="text-lg font-semibold text-white">Program Logs</h2>
        </div>
        <div class="p-6 bg-gray-900 mono text-xs text-gray-300 space-y-1">
            {{range .Transaction.LogMessages}}
            <p>{{.}}</p>
            {{else}}
            <p class="text-gray-500">No logs</p>
            {{end}}
        </div>
    </div>
    {{end}}
</div>
`
