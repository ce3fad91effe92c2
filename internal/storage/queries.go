package storage

// Parameters written as ?N may be referenced more than once; an empty user or
// date argument disables that predicate.
const (
	insertTransaction = `
INSERT INTO transactions (id, user_id, type, amount_cents, category_id, date, note, payment_method)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	upsertCategory = `
INSERT INTO categories (id, user_id, name, type, budget_cents)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    type = excluded.type,
    budget_cents = excluded.budget_cents`

	sumByDay = `
SELECT user_id,
       date,
       COALESCE(SUM(CASE WHEN type = 'income' THEN amount_cents ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN type = 'expense' THEN amount_cents ELSE 0 END), 0)
FROM transactions
WHERE (?1 = '' OR user_id = ?1)
  AND (?2 = '' OR date >= ?2)
  AND (?3 = '' OR date <= ?3)
GROUP BY user_id, date
ORDER BY user_id, date`

	sumByMonthCategory = `
SELECT user_id,
       substr(date, 1, 7) || '-01' AS month,
       category_id,
       COALESCE(SUM(CASE WHEN type = 'income' THEN amount_cents ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN type = 'expense' THEN amount_cents ELSE 0 END), 0),
       COUNT(*)
FROM transactions
WHERE (?1 = '' OR user_id = ?1)
GROUP BY user_id, month, category_id
ORDER BY user_id, month, category_id`

	sumByMonth = `
SELECT substr(date, 1, 7) || '-01' AS month,
       COALESCE(SUM(CASE WHEN type = 'income' THEN amount_cents ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN type = 'expense' THEN amount_cents ELSE 0 END), 0)
FROM transactions
WHERE user_id = ?1
  AND (?2 = '' OR date >= ?2)
  AND (?3 = '' OR date <= ?3)
GROUP BY month
ORDER BY month`

	maxByType = `
SELECT id, user_id, type, amount_cents, category_id, date, note, payment_method
FROM transactions
WHERE user_id = ? AND type = ?
ORDER BY amount_cents DESC, date ASC, id ASC
LIMIT 1`

	listCategories = `
SELECT id, user_id, name, type, budget_cents
FROM categories
WHERE user_id = ?
ORDER BY name`

	upsertWeekly = `
INSERT INTO weekly_rollups (id, user_id, week_start, income_total_cents, expense_total_cents, balance_cents)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, week_start) DO UPDATE SET
    income_total_cents = excluded.income_total_cents,
    expense_total_cents = excluded.expense_total_cents,
    balance_cents = excluded.balance_cents`

	upsertMonthly = `
INSERT INTO monthly_rollups (id, user_id, month, category_id, total_income_cents, total_expense_cents, tx_count, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, month, category_id) DO UPDATE SET
    updated_at = CASE
        WHEN monthly_rollups.total_income_cents = excluded.total_income_cents
         AND monthly_rollups.total_expense_cents = excluded.total_expense_cents
         AND monthly_rollups.tx_count = excluded.tx_count
        THEN monthly_rollups.updated_at
        ELSE excluded.updated_at
    END,
    total_income_cents = excluded.total_income_cents,
    total_expense_cents = excluded.total_expense_cents,
    tx_count = excluded.tx_count`

	listWeekly = `
SELECT id, user_id, week_start, income_total_cents, expense_total_cents, balance_cents
FROM weekly_rollups
WHERE (?1 = '' OR user_id = ?1)
  AND (?2 = '' OR week_start >= ?2)
  AND (?3 = '' OR week_start <= ?3)
ORDER BY week_start, user_id`

	listMonthly = `
SELECT id, user_id, month, category_id, total_income_cents, total_expense_cents, tx_count, updated_at
FROM monthly_rollups
WHERE (?1 = '' OR user_id = ?1)
  AND (?2 = '' OR month >= ?2)
  AND (?3 = '' OR month <= ?3)
ORDER BY user_id, month, category_id`

	listRules = `
SELECT id, user_id, category_id, pattern, is_regex, priority, created_at
FROM category_rules
WHERE user_id = ?
ORDER BY priority ASC, created_at ASC, rowid ASC`

	insertRule = `
INSERT INTO category_rules (id, user_id, category_id, pattern, is_regex, priority, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	deleteRule = `DELETE FROM category_rules WHERE id = ? AND user_id = ?`

	salaryAtOrBefore = `
SELECT id, user_id, month, amount_cents
FROM monthly_salary
WHERE user_id = ? AND month <= ?
ORDER BY month DESC
LIMIT 1`

	upsertSalary = `
INSERT INTO monthly_salary (id, user_id, month, amount_cents)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id, month) DO UPDATE SET amount_cents = excluded.amount_cents
RETURNING id`
)
